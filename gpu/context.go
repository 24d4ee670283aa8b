// Package gpu runs the scan kernels as WGSL compute shaders on WebGPU.
package gpu

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/zap"
)

// Context holds the single WebGPU context for the application
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
}

var (
	ctx    Context
	logger = zap.NewNop()
)

// SetLogger sets the logger used while selecting the adapter. It has no
// effect once the context is initialized.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// AdapterEnv names an adapter substring to force, e.g. "nvidia".
const AdapterEnv = "BLOCKSCAN_ADAPTER"

// GetContext returns the singleton GPU context, initializing it if necessary
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = fmt.Errorf("failed to create WebGPU instance")
			return
		}

		// 0. Honour an explicit adapter choice
		if want := strings.ToLower(os.Getenv(AdapterEnv)); want != "" {
			for _, a := range ctx.Instance.EnumerateAdapters(nil) {
				info := a.GetInfo()
				logger.Debug("adapter",
					zap.String("name", info.Name),
					zap.String("vendor", info.VendorName),
					zap.String("vendor_id", fmt.Sprintf("0x%X", info.VendorId)),
					zap.String("device_id", fmt.Sprintf("0x%X", info.DeviceId)))
				if strings.Contains(strings.ToLower(info.Name), want) ||
					strings.Contains(strings.ToLower(info.VendorName), want) {
					logger.Info("forcing adapter", zap.String("name", info.Name))
					ctx.Adapter = a
					break
				}
			}
		}

		tryInit := func(opts *wgpu.RequestAdapterOptions) error {
			if ctx.Adapter != nil {
				return nil
			}
			var err error
			ctx.Adapter, err = ctx.Instance.RequestAdapter(opts)
			return err
		}

		// 1. High performance, 2. low power, 3. whatever is there
		if ctx.Adapter == nil {
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceHighPerformance,
			})
		}
		if initErr != nil && ctx.Adapter == nil {
			logger.Warn("high performance adapter failed, falling back", zap.Error(initErr))
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceLowPower,
			})
		}
		if initErr != nil && ctx.Adapter == nil {
			logger.Warn("low power adapter failed, trying default", zap.Error(initErr))
			initErr = tryInit(nil)
		}
		if ctx.Adapter == nil {
			initErr = fmt.Errorf("all adapter attempts failed: %v", initErr)
			return
		}

		info := ctx.Adapter.GetInfo()
		logger.Info("using GPU adapter", zap.String("name", info.Name), zap.String("vendor", info.VendorName))

		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			initErr = err
			return
		}
		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}
	return &ctx, nil
}
