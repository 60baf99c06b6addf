package manifest

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strconv"

	"folio/internal/fileutil"
)

// Problem is one artifact that no longer matches its record.
type Problem struct {
	CaptureID    string `json:"capture_id"`
	RelativePath string `json:"relative_path"`
	Reason       string `json:"reason"`
	Expected     string `json:"expected,omitempty"`
	Actual       string `json:"actual,omitempty"`
}

// Problem reasons.
const (
	ReasonMissing      = "missing"
	ReasonSizeMismatch = "size_mismatch"
	ReasonHashMismatch = "hash_mismatch"
	ReasonUnreadable   = "unreadable"
)

// Report summarizes a verification pass.
type Report struct {
	Records  int       `json:"records"`
	Files    int       `json:"files"`
	Verified int       `json:"verified"`
	Problems []Problem `json:"problems"`
}

// OK reports whether every recorded artifact matched.
func (r Report) OK() bool {
	return len(r.Problems) == 0
}

// Verify re-hashes every file referenced by the capture manifest.
func Verify(projectRoot string) (Report, error) {
	records, err := ReadCaptures(projectRoot)
	if err != nil {
		return Report{}, err
	}
	report := Report{Records: len(records), Problems: []Problem{}}
	for _, record := range records {
		for _, file := range record.Files {
			report.Files++
			path := filepath.Join(projectRoot, filepath.FromSlash(file.RelativePath))
			digest, err := fileutil.HashFile(path)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				report.Problems = append(report.Problems, Problem{CaptureID: record.CaptureID, RelativePath: file.RelativePath, Reason: ReasonMissing})
				continue
			case err != nil:
				report.Problems = append(report.Problems, Problem{CaptureID: record.CaptureID, RelativePath: file.RelativePath, Reason: ReasonUnreadable, Actual: err.Error()})
				continue
			}
			if digest.Bytes != file.Bytes {
				report.Problems = append(report.Problems, Problem{
					CaptureID:    record.CaptureID,
					RelativePath: file.RelativePath,
					Reason:       ReasonSizeMismatch,
					Expected:     strconv.FormatInt(file.Bytes, 10),
					Actual:       strconv.FormatInt(digest.Bytes, 10),
				})
				continue
			}
			if file.SHA256 != "" && digest.SHA256 != file.SHA256 {
				report.Problems = append(report.Problems, Problem{
					CaptureID:    record.CaptureID,
					RelativePath: file.RelativePath,
					Reason:       ReasonHashMismatch,
					Expected:     file.SHA256,
					Actual:       digest.SHA256,
				})
				continue
			}
			report.Verified++
		}
	}
	return report, nil
}
