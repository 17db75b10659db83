package host

import "sync"

// DMATransferKind distinguishes Host<->Device directions.
type DMATransferKind int

const (
	DMATransferHostToDevice DMATransferKind = iota
	DMATransferDeviceToHost
)

func (k DMATransferKind) String() string {
	switch k {
	case DMATransferHostToDevice:
		return "host_to_device"
	case DMATransferDeviceToHost:
		return "device_to_host"
	default:
		return "unknown"
	}
}

// DMAController tracks host DMA bandwidth usage and statistics. Transfers to
// different units may be recorded concurrently.
type DMAController struct {
	bytesPerCycle int64

	mu                sync.Mutex
	totalTransfers    int64
	totalBytes        int64
	totalCycles       int64
	hostToDeviceBytes int64
	deviceToHostBytes int64
}

// NewDMAController constructs a DMA controller with the provided throughput (bytes / cycle).
func NewDMAController(bytesPerCycle int64) *DMAController {
	if bytesPerCycle <= 0 {
		bytesPerCycle = 8192
	}
	return &DMAController{bytesPerCycle: bytesPerCycle}
}

// BytesPerCycle returns the configured throughput.
func (d *DMAController) BytesPerCycle() int64 {
	if d == nil {
		return 0
	}
	return d.bytesPerCycle
}

// EstimateCycles computes the number of cycles required to transfer the requested bytes.
func (d *DMAController) EstimateCycles(bytes int64) int64 {
	if bytes < 0 {
		bytes = 0
	}
	bandwidth := d.BytesPerCycle()
	if bandwidth <= 0 {
		bandwidth = 8192
	}
	cycles := (bytes + bandwidth - 1) / bandwidth
	if cycles <= 0 {
		cycles = 1
	}
	return cycles
}

// Record registers a completed DMA transfer for statistics and returns its
// estimated cycle cost.
func (d *DMAController) Record(kind DMATransferKind, bytes int64) int64 {
	if d == nil {
		return 0
	}
	if bytes < 0 {
		bytes = 0
	}
	cycles := d.EstimateCycles(bytes)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalTransfers++
	d.totalBytes += bytes
	d.totalCycles += cycles
	switch kind {
	case DMATransferHostToDevice:
		d.hostToDeviceBytes += bytes
	case DMATransferDeviceToHost:
		d.deviceToHostBytes += bytes
	}
	return cycles
}

// Totals expose aggregate statistics for logging.
func (d *DMAController) Totals() (transfers int64, bytes int64, cycles int64) {
	if d == nil {
		return 0, 0, 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totalTransfers, d.totalBytes, d.totalCycles
}

func (d *DMAController) HostToDeviceBytes() int64 {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hostToDeviceBytes
}

func (d *DMAController) DeviceToHostBytes() int64 {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deviceToHostBytes
}
