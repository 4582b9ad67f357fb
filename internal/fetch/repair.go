package fetch

import (
	"os"
	"strings"

	"gonntp/internal/par2"
)

// RepairCheck is the outcome of checking downloaded files against the
// PAR2 set that came with them.
type RepairCheck struct {
	Results    []*par2.Verification
	Damaged    int // files present but not matching
	Missing    int
	Recovery   int // recovery slices available
	Repairable bool
}

// CheckRepair parses the downloaded .par2 files, merges their volumes
// and verifies the other downloaded files against them.  It returns
// nil when no PAR2 file is among the results.
func CheckRepair(files []*FileResult) (*RepairCheck, error) {
	var set *par2.File
	byName := make(map[string]*FileResult, len(files))
	var vols []*FileResult
	for _, r := range files {
		if r.Path == "" {
			continue
		}
		byName[r.Name] = r
		if strings.HasSuffix(strings.ToLower(r.Name), ".par2") {
			vols = append(vols, r)
		}
	}
	if len(vols) == 0 {
		return nil, nil
	}

	// The index file (no ".vol") first, so its metadata wins.
	for i, v := range vols {
		if !strings.Contains(strings.ToLower(v.Name), ".vol") {
			vols[0], vols[i] = vols[i], vols[0]
			break
		}
	}
	for _, v := range vols {
		data, err := os.ReadFile(v.Path)
		if err != nil {
			return nil, err
		}
		p, err := par2.Parse(data)
		if err != nil {
			return nil, err
		}
		if set == nil {
			set = p
		} else if err := set.Merge(p); err != nil {
			return nil, err
		}
	}

	data := make(map[par2.ID][]byte)
	for id, d := range set.Files {
		r, ok := byName[d.Name]
		if !ok {
			continue
		}
		b, err := os.ReadFile(r.Path)
		if err != nil {
			return nil, err
		}
		data[id] = b
	}
	results, err := set.VerifyAll(data)
	if err != nil {
		return nil, err
	}

	rc := &RepairCheck{Results: results, Recovery: len(set.Recovery)}
	for _, v := range results {
		switch v.Status {
		case par2.Damaged:
			rc.Damaged++
		case par2.Missing:
			rc.Missing++
		}
	}
	rc.Repairable = set.CanRepair(results)
	return rc, nil
}
