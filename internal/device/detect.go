package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// deviceLabel is the volume label iTunes gives a player's data partition.
const deviceLabel = "IPOD"

var supportedFSTypes = map[string]struct{}{
	"vfat":    {},
	"fat":     {},
	"fat16":   {},
	"fat32":   {},
	"hfsplus": {},
}

// Candidate is a partition that could hold a player's filesystem.
type Candidate struct {
	Path   string
	FSType string
	Size   int64
	Label  string
	Tran   string
	Vendor string
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	FSType   string        `json:"fstype"`
	Size     flexInt       `json:"size"`
	Label    string        `json:"label"`
	Tran     string        `json:"tran"`
	Vendor   string        `json:"vendor"`
	Children []lsblkDevice `json:"children"`
}

// flexInt accepts both numeric and quoted sizes; lsblk versions differ.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), "\"")
	if raw == "" || raw == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("parse size %q: %w", raw, err)
	}
	*f = flexInt(n)
	return nil
}

// ParseLSBLK extracts supported-filesystem partitions from
// `lsblk --json -b` output. Transport and vendor are inherited from the
// parent disk when the partition does not report them.
func ParseLSBLK(data []byte) ([]Candidate, error) {
	var out lsblkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode lsblk output: %w", err)
	}
	var candidates []Candidate
	var walk func(devs []lsblkDevice, tran, vendor string)
	walk = func(devs []lsblkDevice, tran, vendor string) {
		for _, dev := range devs {
			t := firstNonEmpty(dev.Tran, tran)
			v := firstNonEmpty(strings.TrimSpace(dev.Vendor), vendor)
			fstype := strings.ToLower(strings.TrimSpace(dev.FSType))
			if _, ok := supportedFSTypes[fstype]; ok {
				path := dev.Path
				if path == "" {
					path = "/dev/" + dev.Name
				}
				candidates = append(candidates, Candidate{
					Path:   path,
					FSType: fstype,
					Size:   int64(dev.Size),
					Label:  strings.TrimSpace(dev.Label),
					Tran:   t,
					Vendor: v,
				})
			}
			walk(dev.Children, t, v)
		}
	}
	walk(out.BlockDevices, "", "")
	return candidates, nil
}

// PickCandidate selects the best partition: an IPOD label wins, then an
// Apple vendor string, then the largest size.
func PickCandidate(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if candidateRank(c).better(candidateRank(best)) {
			best = c
		}
	}
	return best, true
}

type rank struct {
	label  bool
	vendor bool
	size   int64
}

func candidateRank(c Candidate) rank {
	return rank{
		label:  strings.EqualFold(c.Label, deviceLabel),
		vendor: strings.Contains(strings.ToLower(c.Vendor), "apple"),
		size:   c.Size,
	}
}

func (r rank) better(o rank) bool {
	if r.label != o.label {
		return r.label
	}
	if r.vendor != o.vendor {
		return r.vendor
	}
	return r.size > o.size
}

// Detect runs lsblk and returns the best candidate partition.
func Detect(ctx context.Context) (Candidate, error) {
	out, err := runCommand(ctx, "lsblk", "--json", "-b", "-o", "NAME,PATH,FSTYPE,SIZE,LABEL,TRAN,VENDOR")
	if err != nil {
		return Candidate{}, fmt.Errorf("run lsblk: %w", err)
	}
	candidates, err := ParseLSBLK(out)
	if err != nil {
		return Candidate{}, err
	}
	best, ok := PickCandidate(candidates)
	if !ok {
		return Candidate{}, errors.New("no FAT or HFS+ partition found")
	}
	return best, nil
}

// waitForDevice polls until path exists or timeout elapses. Device nodes
// appear a moment after the USB attach event.
func waitForDevice(ctx context.Context, path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
