package controller

import (
	"errors"
	"fmt"
)

// ErrUnknownType indicates a controller name outside the cgroup v2 set.
var ErrUnknownType = errors.New("controller: unknown controller type")

// New returns a controller for the given type name, pre-seeded with the stat
// files that type exposes. Unknown names are a configuration error.
func New(name string) (*Controller, error) {
	switch Type(name) {
	case TypeCpuset:
		return &Controller{name: TypeCpuset}, nil
	case TypeCpu:
		return &Controller{name: TypeCpu, statFiles: []string{"cpu.stat"}}, nil
	case TypeIo:
		return &Controller{name: TypeIo, statFiles: []string{"io.stat"}}, nil
	case TypeMemory:
		return &Controller{name: TypeMemory, statFiles: []string{"memory.stat", "memory.numa_stat"}}, nil
	case TypeHugeTlb:
		return &Controller{name: TypeHugeTlb, statFiles: []string{"hugetlb.1GB.numa_stat", "hugetlb.2MB.numa_stat"}}, nil
	case TypePids:
		return &Controller{name: TypePids}, nil
	case TypeRdma:
		return &Controller{name: TypeRdma}, nil
	case TypeMisc:
		return &Controller{name: TypeMisc}, nil
	default:
		return nil, fmt.Errorf("%w: controller name %q is not recognized", ErrUnknownType, name)
	}
}
