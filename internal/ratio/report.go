// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package ratio

import (
	"encoding/json"
	"fmt"
)

const (
	gib = 1 << 30
	tib = 1 << 40

	UnitGiB = "GiB"
	UnitTiB = "TiB"
)

// Report is the ratio with both totals scaled to a common unit.
// It is encoded as a JSON array: [ratio, upload, download, unit].
type Report struct {
	Ratio    float64
	Upload   float64
	Download float64
	Unit     string
}

// NewReport computes the report for raw byte totals.
// The unit is chosen by the upload total alone.
func NewReport(upload, download int64) Report {
	r := Report{}
	if download > 0 {
		r.Ratio = float64(upload) / float64(download)
	}

	if upload < tib {
		r.Upload = float64(upload) / gib
		r.Download = float64(download) / gib
		r.Unit = UnitGiB
	} else {
		r.Upload = float64(upload) / tib
		r.Download = float64(download) / tib
		r.Unit = UnitTiB
	}
	return r
}

func (r Report) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.Ratio, r.Upload, r.Download, r.Unit})
}

func (r *Report) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("expected 4 report elements, got %d", len(raw))
	}

	var out Report
	for i, dst := range []interface{}{&out.Ratio, &out.Upload, &out.Download, &out.Unit} {
		if err := json.Unmarshal(raw[i], dst); err != nil {
			return err
		}
	}
	*r = out
	return nil
}

func (r Report) String() string {
	return fmt.Sprintf("%.3f (up %.3f %s, down %.3f %s)", r.Ratio, r.Upload, r.Unit, r.Download, r.Unit)
}
