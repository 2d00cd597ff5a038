// Package bus wraps everything the uploader needs from the message bus: the
// broker configuration files, the producer contract with its asynchronous
// delivery callbacks, and a small consumer used by the mirror side.
package bus

import (
	"strings"

	"github.com/go-ini/ini"
	"github.com/google/uuid"
	"github.com/openmsi/msistream/internal/debug"
	"github.com/openmsi/msistream/internal/errors"
)

// Config holds the parsed contents of a broker config file. The file is the
// INI dialect the Python tooling in this project has always used: a [cluster]
// section with the connection settings and optional [producer], [consumer]
// and [s3] sections.
type Config struct {
	Cluster  map[string]string
	Producer map[string]string
	Consumer map[string]string
	S3       map[string]string
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load config file %v", path)
	}

	cfg := &Config{
		Cluster:  sectionMap(f, "cluster"),
		Producer: sectionMap(f, "producer"),
		Consumer: sectionMap(f, "consumer"),
		S3:       sectionMap(f, "s3"),
	}

	if len(cfg.Cluster) == 0 {
		return nil, errors.Errorf("config file %v has no [cluster] section", path)
	}
	if cfg.BootstrapServers() == nil {
		return nil, errors.Errorf("config file %v does not set bootstrap.servers", path)
	}

	return cfg, nil
}

func sectionMap(f *ini.File, name string) map[string]string {
	section, err := f.GetSection(name)
	if err != nil {
		return nil
	}

	m := make(map[string]string)
	for _, key := range section.Keys() {
		m[key.Name()] = key.Value()
	}
	return m
}

// BootstrapServers returns the broker addresses from the [cluster] section.
func (c *Config) BootstrapServers() []string {
	servers, ok := c.Cluster["bootstrap.servers"]
	if !ok || servers == "" {
		return nil
	}

	var list []string
	for _, s := range strings.Split(servers, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			list = append(list, s)
		}
	}
	return list
}

// GroupID returns the consumer group id. The special value "create_new"
// yields a fresh random group id, so every run starts reading on its own.
func (c *Config) GroupID() string {
	id := c.Consumer["group.id"]
	if strings.EqualFold(id, "create_new") || strings.EqualFold(id, "new") {
		id = uuid.NewString()
		debug.Log("generated consumer group id %v", id)
	}
	return id
}
