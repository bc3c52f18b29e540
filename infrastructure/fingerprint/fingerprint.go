// Package fingerprint computes the Hardware Fingerprint (§3.6): a
// SHA-256 digest derived from stable host attributes, used to bind a
// Signed License to the machine it was activated on. Grounded on the
// teacher's go.mod dependency on github.com/shirou/gopsutil/v3 (present
// there but otherwise unused by any Appointment-domain component — this
// is its one home) for portable host/CPU/memory introspection.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Attributes is the stable host attribute set the fingerprint is
// derived from (§3.6).
type Attributes struct {
	Hostname      string
	CPUBrand      string
	TotalMemory   uint64
	OSName        string
}

// Collect gathers the current host's Attributes. Never persisted except
// as the bound digest (§3.6).
func Collect() (Attributes, error) {
	info, err := host.Info()
	if err != nil {
		return Attributes{}, fmt.Errorf("collect host info: %w", err)
	}

	cpuBrand := ""
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		cpuBrand = cpus[0].ModelName
	}

	var totalMemory uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		totalMemory = vm.Total
	}

	osName := info.Platform
	if osName == "" {
		osName = runtime.GOOS
	}

	return Attributes{
		Hostname:    info.Hostname,
		CPUBrand:    cpuBrand,
		TotalMemory: totalMemory,
		OSName:      osName,
	}, nil
}

// Digest returns the deterministic lowercase-hex SHA-256 digest of attrs,
// in the canonical order {hostname, CPU brand string, total memory byte
// count, OS name} (§3.6).
func Digest(attrs Attributes) string {
	canonical := fmt.Sprintf("%s|%s|%d|%s", attrs.Hostname, attrs.CPUBrand, attrs.TotalMemory, attrs.OSName)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Current computes the current host's fingerprint digest directly.
func Current() (string, error) {
	attrs, err := Collect()
	if err != nil {
		return "", err
	}
	return Digest(attrs), nil
}
