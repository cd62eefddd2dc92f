// Package controller models cgroup v2 controllers and controller groups. A
// group emits the external cgcreate/cgset/cgdelete command lines that build
// and tear down its cgroup; the sysfs tree is never touched directly so that
// privilege escalation via a become command is honored.
package controller

// Type is a cgroup v2 controller name.
type Type string

const (
	TypeCpuset  Type = "cpuset"
	TypeCpu     Type = "cpu"
	TypeIo      Type = "io"
	TypeMemory  Type = "memory"
	TypeHugeTlb Type = "hugetlb"
	TypePids    Type = "pids"
	TypeRdma    Type = "rdma"
	TypeMisc    Type = "misc"
)

// Limit is one key=value resource limit applied with cgset. Limits keep their
// declaration order.
type Limit struct {
	Key   string
	Value string
}

// Controller is one cgroup v2 controller with its limits and the stat files
// exposed for periodic sampling under /sys/fs/cgroup/<group>/.
type Controller struct {
	name      Type
	limits    []Limit
	statFiles []string
}

func (c *Controller) Name() Type { return c.name }

func (c *Controller) Limits() []Limit { return c.limits }

// AddLimit appends a limit, preserving declaration order.
func (c *Controller) AddLimit(key, value string) {
	c.limits = append(c.limits, Limit{Key: key, Value: value})
}

func (c *Controller) StatFiles() []string { return c.statFiles }

// AddStatFile registers an additional stat file for sampling.
func (c *Controller) AddStatFile(name string) {
	c.statFiles = append(c.statFiles, name)
}

// SetStatFiles replaces the sampled stat files.
func (c *Controller) SetStatFiles(names []string) {
	c.statFiles = append([]string(nil), names...)
}
