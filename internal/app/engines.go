package app

import (
	"fmt"
	"sort"

	"github.com/roelfdiedericks/voicerelay/internal/config"
	"github.com/roelfdiedericks/voicerelay/internal/stt"
)

// engineFactory loads an offline engine from a provisioned model directory.
type engineFactory func(s config.Settings, modelPath string) (stt.Engine, error)

// engines holds the offline engines compiled into this binary. The native
// engines register themselves only in cgo builds.
var engines = map[string]engineFactory{}

func registerEngine(name string, f engineFactory) {
	engines[name] = f
}

// lookupEngine resolves the configured engine before any model is fetched.
func lookupEngine(name string) (engineFactory, error) {
	if name == "" {
		name = config.EngineVosk
	}
	f, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("offline engine %q is not built into this binary (available: %v)", name, engineNames())
	}
	return f, nil
}

func engineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
