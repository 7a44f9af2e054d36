package shared

import (
	"context"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/vinifmor/guapow/internal/sysadapter"
)

// GPUState snapshots the prior performance mode per discovered GPU/card,
// keyed the same way across NVIDIA ("gpu:<id>") and AMD ("card:<path>")
// targets so one Resource can serve either vendor.
type GPUState struct {
	Modes map[string]string
}

// GPUResource drives the shared GPU performance-mode claim. With no vendor
// configured it auto-probes both families on acquire (NVIDIA via
// nvidia-smi availability, AMD via sysfs) so a mixed-vendor host gets both
// adapters driven at once; an explicit Vendor restricts discovery to just
// that family.
type GPUResource struct {
	Vendor        sysadapter.GPUVendor
	OnlyConnected bool
	Display       string
	AllowedIDs    map[int]struct{}
	Log           *logrus.Entry

	mu       sync.Mutex
	cached   []sysadapter.GPUInfo
	haveList bool
	cacheOn  bool
}

// NewGPUResource builds a GPUResource; cache controls whether GPU discovery
// runs once and is reused (gpu.cache=true) or re-runs on every claim.
// allowedIDs, when non-empty, restricts driving to those GPU indices
// (gpu.id).
func NewGPUResource(vendor sysadapter.GPUVendor, onlyConnected, cache bool, display string, allowedIDs map[int]struct{}, log *logrus.Entry) *GPUResource {
	return &GPUResource{Vendor: vendor, OnlyConnected: onlyConnected, Display: display, AllowedIDs: allowedIDs, Log: log, cacheOn: cache}
}

func (g *GPUResource) discover(ctx context.Context) ([]sysadapter.GPUInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cacheOn && g.haveList {
		return g.cached, nil
	}

	var gpus []sysadapter.GPUInfo

	if g.Vendor == "" || g.Vendor == sysadapter.GPUVendorNVIDIA {
		if sysadapter.NVIDIAAvailable() {
			found, err := sysadapter.DiscoverNVIDIA(ctx, g.Log)
			if err != nil {
				g.Log.WithError(err).Warn("nvidia gpu discovery failed")
			} else {
				gpus = append(gpus, found...)
			}
		}
	}

	if g.Vendor == "" || g.Vendor == sysadapter.GPUVendorAMD {
		cards, err := sysadapter.DiscoverAMDCards()
		if err != nil {
			g.Log.WithError(err).Warn("amd gpu discovery failed")
		} else {
			for i, card := range cards {
				gpus = append(gpus, sysadapter.GPUInfo{ID: i, Vendor: sysadapter.GPUVendorAMD, Connected: sysadapter.AMDCardConnected(card), Path: card})
			}
		}
	}

	if len(g.AllowedIDs) > 0 {
		var filtered []sysadapter.GPUInfo
		for _, gpu := range gpus {
			if _, ok := g.AllowedIDs[gpu.ID]; ok {
				filtered = append(filtered, gpu)
			}
		}
		gpus = filtered
	}

	if g.OnlyConnected {
		var filtered []sysadapter.GPUInfo
		for _, gpu := range gpus {
			if gpu.Connected {
				filtered = append(filtered, gpu)
			}
		}
		gpus = filtered
	}

	g.cached = gpus
	g.haveList = true
	return gpus, nil
}

func (g *GPUResource) Capture(ctx context.Context) (GPUState, error) {
	state := GPUState{Modes: make(map[string]string)}

	gpus, err := g.discover(ctx)
	if err != nil {
		return state, err
	}

	for _, gpu := range gpus {
		switch gpu.Vendor {
		case sysadapter.GPUVendorNVIDIA:
			mode, err := sysadapter.ReadNVIDIAPerformanceMode(ctx, g.Log, g.Display, gpu.ID)
			if err != nil {
				g.Log.WithError(err).WithField("gpu", gpu.ID).Warn("failed to read prior nvidia mode")
				continue
			}
			state.Modes["gpu:"+strconv.Itoa(gpu.ID)] = mode
		case sysadapter.GPUVendorAMD:
			mode, err := sysadapter.ReadAMDPerfLevel(gpu.Path)
			if err != nil {
				g.Log.WithError(err).WithField("card", gpu.Path).Warn("failed to read prior amd level")
				continue
			}
			state.Modes["card:"+gpu.Path] = mode
		}
	}

	return state, nil
}

func (g *GPUResource) Apply(ctx context.Context, _ GPUState) error {
	gpus, err := g.discover(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, gpu := range gpus {
		switch gpu.Vendor {
		case sysadapter.GPUVendorNVIDIA:
			if err := sysadapter.SetNVIDIAPerformanceMode(ctx, g.Log, g.Display, gpu.ID, sysadapter.NVIDIAModePerformance); err != nil && firstErr == nil {
				firstErr = err
			}
		case sysadapter.GPUVendorAMD:
			if err := sysadapter.WriteAMDPerfLevel(gpu.Path, sysadapter.AMDLevelHigh); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (g *GPUResource) Restore(ctx context.Context, prior GPUState) error {
	var firstErr error
	for key, mode := range prior.Modes {
		var err error
		if len(key) > 4 && key[:4] == "gpu:" {
			id, convErr := strconv.Atoi(key[4:])
			if convErr != nil {
				continue
			}
			err = sysadapter.SetNVIDIAPerformanceMode(ctx, g.Log, g.Display, id, mode)
		} else if len(key) > 5 && key[:5] == "card:" {
			err = sysadapter.WriteAMDPerfLevel(key[5:], mode)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
