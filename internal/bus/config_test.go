package bus_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openmsi/msistream/internal/bus"
	rtest "github.com/openmsi/msistream/internal/test"
)

func writeConfig(t testing.TB, content string) string {
	t.Helper()
	path := filepath.Join(rtest.TempDir(t), "test.config")
	rtest.OK(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[cluster]
bootstrap.servers = broker-1:9092, broker-2:9092

[producer]
batch.num.messages = 100
linger.ms = 5

[consumer]
group.id = mirror-group
auto.offset.reset = earliest

[s3]
endpoint = play.min.io
`)

	cfg, err := bus.LoadConfig(path)
	rtest.OK(t, err)

	rtest.Equals(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.BootstrapServers())
	rtest.Equals(t, "100", cfg.Producer["batch.num.messages"])
	rtest.Equals(t, "5", cfg.Producer["linger.ms"])
	rtest.Equals(t, "mirror-group", cfg.GroupID())
	rtest.Equals(t, "earliest", cfg.Consumer["auto.offset.reset"])
	rtest.Equals(t, "play.min.io", cfg.S3["endpoint"])
}

func TestLoadConfigMinimal(t *testing.T) {
	path := writeConfig(t, `
[cluster]
bootstrap.servers = localhost:9092
`)

	cfg, err := bus.LoadConfig(path)
	rtest.OK(t, err)
	rtest.Equals(t, []string{"localhost:9092"}, cfg.BootstrapServers())
	rtest.Equals(t, "", cfg.GroupID())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := bus.LoadConfig(filepath.Join(rtest.TempDir(t), "missing.config"))
	rtest.Assert(t, err != nil, "expected an error for a missing file")

	path := writeConfig(t, `
[producer]
linger.ms = 5
`)
	_, err = bus.LoadConfig(path)
	rtest.Assert(t, err != nil, "expected an error for a config without [cluster]")

	path = writeConfig(t, `
[cluster]
security.protocol = PLAINTEXT
`)
	_, err = bus.LoadConfig(path)
	rtest.Assert(t, err != nil, "expected an error for a config without bootstrap.servers")
}

func TestGroupIDCreateNew(t *testing.T) {
	path := writeConfig(t, `
[cluster]
bootstrap.servers = localhost:9092

[consumer]
group.id = create_new
`)

	cfg, err := bus.LoadConfig(path)
	rtest.OK(t, err)

	id1 := cfg.GroupID()
	id2 := cfg.GroupID()
	rtest.Assert(t, id1 != "", "empty generated group id")
	rtest.Assert(t, id1 != id2, "two generated group ids are identical")
}
