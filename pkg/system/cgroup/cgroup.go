//go:build linux

// Package cgroup detects the host cgroup layout and resolves paths inside the
// unified hierarchy. The orchestrator requires cgroup v2: groups are built and
// destroyed via the cg* binaries, and collectors read stat files under the
// unified mount.
package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BasePath is the unified hierarchy mount point. Controller stat files for a
// group <name> live at BasePath/<name>/<file>.
const BasePath = "/sys/fs/cgroup"

type Version int

const (
	Unsupported Version = iota // no cgroup mounts
	V1                         // legacy multi-hierarchy cgroup v1
	V2                         // unified cgroup v2
	Hybrid                     // both v1 and v2 present
)

func (v Version) String() string {
	switch v {
	case V1:
		return "cgroup v1"
	case V2:
		return "cgroup v2"
	case Hybrid:
		return "cgroup hybrid"
	default:
		return "unsupported"
	}
}

// Detect returns the detected cgroup version and a human-readable detail
// string.
//
// It parses /proc/self/mountinfo looking for cgroup filesystems. The line
// format has a " - fstype " separator; we only care about fstype and the
// mount point (field 5 of the pre-separator part, per man 5 proc).
func Detect() (Version, string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return Unsupported, "", fmt.Errorf("open mountinfo: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var (
		v1Pts []string
		v2Pts []string
		sc    = bufio.NewScanner(f)
	)
	for sc.Scan() {
		line := sc.Text()
		sep := " - "
		i := strings.LastIndex(line, sep)
		if i < 0 {
			continue
		}
		fields := strings.Fields(line[i+len(sep):])
		if len(fields) < 1 {
			continue
		}
		pre := strings.Fields(line[:i])
		if len(pre) < 5 {
			continue
		}
		mountPoint := pre[4]

		switch fields[0] {
		case "cgroup2":
			v2Pts = append(v2Pts, mountPoint)
		case "cgroup":
			v1Pts = append(v1Pts, mountPoint)
		}
	}
	if err := sc.Err(); err != nil {
		return Unsupported, "", fmt.Errorf("scan mountinfo: %w", err)
	}

	switch {
	case len(v1Pts) > 0 && len(v2Pts) > 0:
		return Hybrid, fmt.Sprintf("cgroup2 on %v; cgroup v1 on %v",
			strings.Join(v2Pts, ","), strings.Join(v1Pts, ",")), nil
	case len(v2Pts) > 0:
		return V2, fmt.Sprintf("cgroup2 on %v", strings.Join(v2Pts, ",")), nil
	case len(v1Pts) > 0:
		return V1, fmt.Sprintf("cgroup v1 on %v", strings.Join(v1Pts, ",")), nil
	default:
		return Unsupported, "no cgroup mounts found", nil
	}
}

// RequireV2 fails unless the unified hierarchy is mounted (pure v2 or hybrid).
func RequireV2() error {
	v, detail, err := Detect()
	if err != nil {
		return err
	}
	if v != V2 && v != Hybrid {
		return fmt.Errorf("cgroup v2 unified hierarchy required, detected %s (%s)", v, detail)
	}
	return nil
}

// GroupDir returns the directory of a named group in the unified hierarchy.
func GroupDir(name string) string {
	return filepath.Join(BasePath, name)
}

// StatPath returns the path of a controller stat file inside a named group.
func StatPath(group, file string) string {
	return filepath.Join(BasePath, group, file)
}
