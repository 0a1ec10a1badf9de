// Package tlmt sends anonymous product telemetry about listing activity.
package tlmt

import (
	"context"
	"crypto/sha256"
	"fmt"
	"maps"
	"os"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
)

var (
	once       sync.Once
	identifier instanceIdentifier
)

type Event struct {
	AnonymousID string
	Name        string
	Properties  map[string]any
}

// NewEvent attaches the instance id and host metadata to props. Listing and
// user ids must not be passed in props.
func NewEvent(name string, props map[string]any) Event {
	id := instanceID()

	ev := Event{
		AnonymousID: id.id,
		Name:        name,
		Properties:  maps.Clone(id.meta),
	}

	for k, v := range props {
		ev.Properties[k] = v
	}

	return ev
}

type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

type instanceIdentifier struct {
	id   string
	meta map[string]any
}

func instanceID() instanceIdentifier {
	once.Do(func() {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = uuid.NewString()
		}

		hash := sha256.New()
		hash.Write([]byte(hostname))
		hash.Write([]byte(runtime.GOARCH))
		hash.Write([]byte(runtime.GOOS))

		meta := map[string]any{"go_version": runtime.Version()}

		if info, err := host.Info(); err == nil {
			meta["os"] = info.OS
			meta["platform"] = info.Platform
			meta["platform_version"] = info.PlatformVersion
			meta["virtualization"] = info.VirtualizationSystem
		}

		identifier.id = fmt.Sprintf("%x", hash.Sum(nil))
		identifier.meta = meta
	})

	return identifier
}
