// Package datafile contains the data model of the uploader: tracked files
// and their lifecycle, the chunks they are split into, the deterministic
// on-wire chunk record, the insertion-ordered file registry and the bounded
// queue between the control loop and the producer workers.
package datafile
