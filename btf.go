package kldd

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf/btf"
)

// probeBTF checks whether the module carries BPF Type Format information in
// a .BTF section.
//
// A .BTF section that does not decode as standalone BTF is still reported as
// present, with the decode error attached. Module BTF is often split BTF that
// needs the kernel's base types.
func probeBTF(m *ModuleImage) ProbeResult {
	if m == nil || m.reader == nil {
		return ProbeResult{Supported: false, Error: fmt.Errorf("module image is closed")}
	}

	_, err := btf.LoadSpecFromReader(m.reader)
	if err == nil {
		return ProbeResult{Supported: true}
	}
	if errors.Is(err, btf.ErrNotFound) {
		return ProbeResult{Supported: false}
	}
	return ProbeResult{Supported: true, Error: err}
}
