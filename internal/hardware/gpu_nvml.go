package hardware

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/nvprime/nvprime/internal/foundation/errors"
	"github.com/nvprime/nvprime/internal/logfields"
	"github.com/nvprime/nvprime/internal/tuning"
)

// NVMLOpener opens GPUs through the NVIDIA Management Library. The library is
// loaded lazily, so a machine without the driver fails at Open, not at startup.
type NVMLOpener struct{}

func (NVMLOpener) Open(uuid string) (GPUDevice, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nil, nvmlError("NVML initialization failed", ret)
	}

	var (
		device nvml.Device
		ret    nvml.Return
	)
	if uuid != "" {
		device, ret = nvml.DeviceGetHandleByUUID(uuid)
	} else {
		device, ret = nvml.DeviceGetHandleByIndex(0)
	}
	if ret != nvml.SUCCESS {
		_ = nvml.Shutdown()
		return nil, nvmlError("GPU device lookup failed", ret).WithContext("uuid", uuid)
	}

	d := &NVMLDevice{device: device}
	if d.name, ret = device.GetName(); ret != nvml.SUCCESS {
		d.name = "unknown"
	}
	if d.uuid, ret = device.GetUUID(); ret != nvml.SUCCESS {
		d.uuid = uuid
	}
	d.logInfo()
	return d, nil
}

// NVMLDevice is a GPU handle obtained from NVMLOpener.
type NVMLDevice struct {
	device    nvml.Device
	name      string
	uuid      string
	closeOnce sync.Once
}

func (d *NVMLDevice) Name() string { return d.name }
func (d *NVMLDevice) UUID() string { return d.uuid }

func (d *NVMLDevice) DefaultPowerLimit() (uint32, error) {
	limit, ret := d.device.GetPowerManagementDefaultLimit()
	if ret != nvml.SUCCESS {
		return 0, nvmlError("read default power limit", ret)
	}
	return limit, nil
}

func (d *NVMLDevice) ApplyPowerTarget(target tuning.PowerTarget) (uint32, error) {
	minLimit, maxLimit, ret := d.device.GetPowerManagementLimitConstraints()
	if ret != nvml.SUCCESS {
		return 0, nvmlError("read power limit constraints", ret)
	}
	slog.Debug("GPU power constraints",
		logfields.GPU(d.name),
		slog.Any("min_mw", minLimit),
		slog.Any("max_mw", maxLimit))

	limit, clamped := ResolvePowerTarget(target, minLimit, maxLimit)
	if clamped {
		slog.Warn("Requested power limit out of range, clamping",
			logfields.GPU(d.name),
			slog.Any("requested_mw", target.Milliwatts),
			logfields.PowerLimitMW(limit))
	}
	if ret := d.device.SetPowerManagementLimit(limit); ret != nvml.SUCCESS {
		return 0, nvmlError("set power limit", ret).WithContext("power_limit_mw", limit)
	}
	slog.Info("Set GPU power limit", logfields.GPU(d.name), logfields.PowerLimitMW(limit))
	return limit, nil
}

func (d *NVMLDevice) RestorePowerLimit(milliwatts uint32) error {
	if ret := d.device.SetPowerManagementLimit(milliwatts); ret != nvml.SUCCESS {
		return nvmlError("restore power limit", ret).WithContext("power_limit_mw", milliwatts)
	}
	slog.Info("Restored GPU power limit", logfields.GPU(d.name), logfields.PowerLimitMW(milliwatts))
	return nil
}

func (d *NVMLDevice) Close() error {
	var err error
	d.closeOnce.Do(func() {
		if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
			err = nvmlError("NVML shutdown failed", ret)
		}
	})
	return err
}

func (d *NVMLDevice) logInfo() {
	attrs := []any{logfields.GPU(d.name), slog.String("uuid", d.uuid)}
	if limit, ret := d.device.GetEnforcedPowerLimit(); ret == nvml.SUCCESS {
		attrs = append(attrs, slog.Any("enforced_power_limit_mw", limit))
	}
	if mem, ret := d.device.GetMemoryInfo(); ret == nvml.SUCCESS {
		attrs = append(attrs, slog.String("memory", fmt.Sprintf("%.2fGB / %.2fGB",
			float64(mem.Used)/(1<<30), float64(mem.Total)/(1<<30))))
	}
	slog.Info("Initialized NVML device", attrs...)
}

// ResolvePowerTarget turns a target into a concrete limit within [minLimit, maxLimit].
// The second return value reports whether a requested wattage had to be clamped.
func ResolvePowerTarget(target tuning.PowerTarget, minLimit, maxLimit uint32) (uint32, bool) {
	if target.Max {
		return maxLimit, false
	}
	switch {
	case target.Milliwatts < minLimit:
		return minLimit, true
	case target.Milliwatts > maxLimit:
		return maxLimit, true
	default:
		return target.Milliwatts, false
	}
}

func nvmlError(msg string, ret nvml.Return) *errors.ClassifiedError {
	return errors.HardwareError(msg).
		WithCause(fmt.Errorf("nvml: %s", nvml.ErrorString(ret))).
		WithContext("nvml_return", int(ret)).
		Build()
}
