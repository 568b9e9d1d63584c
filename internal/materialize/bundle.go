package materialize

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/roach88/claimgov/internal/model"
)

// DirSource serves a bundle directory's files to the integrity stage.
func DirSource(dir string) fs.FS {
	return os.DirFS(dir)
}

// LoadBundle reads the bundle in dir into a RunArtifact.
func LoadBundle(dir string) (model.RunArtifact, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return model.RunArtifact{}, fmt.Errorf("open bundle: %w", err)
	}
	if !info.IsDir() {
		return model.RunArtifact{}, fmt.Errorf("open bundle: %s is not a directory", dir)
	}
	return LoadBundleFS(DirSource(dir))
}

// LoadBundleFS reads a bundle from fsys.
//
// The bundle is untrusted: missing or malformed files do not fail the load.
// StructuralFields records every file found (true) and every malformed
// file ("malformed: <reason>"); judging them is the structural stage's job.
// Only I/O failures other than absence are returned as errors.
func LoadBundleFS(fsys fs.FS) (model.RunArtifact, error) {
	art := model.RunArtifact{
		Checksums:        map[string]string{},
		StructuralFields: map[string]any{},
	}

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			art.StructuralFields[path] = true
		}
		return nil
	})
	if err != nil {
		return art, fmt.Errorf("scan bundle: %w", err)
	}

	if data, ok, err := readOptional(fsys, model.FileContract); err != nil {
		return art, err
	} else if ok {
		var desc map[string]any
		if err := json.Unmarshal(data, &desc); err != nil || desc == nil {
			art.StructuralFields[model.FileContract] = malformed(err, "not an object")
		} else {
			art.Descriptor = desc
			art.ContractVersion, _ = desc["contract_version"].(string)
			art.RunID, _ = desc["run_id"].(string)
		}
	}

	if data, ok, err := readOptional(fsys, model.FileManifest); err != nil {
		return art, err
	} else if ok {
		sums, err := model.ParseManifest(data)
		if err != nil {
			art.StructuralFields[model.FileManifest] = malformed(err, "")
		} else {
			art.Checksums = sums
		}
	}

	if data, ok, err := readOptional(fsys, model.FileApproval); err != nil {
		return art, err
	} else if ok {
		var doc approvalDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			art.StructuralFields[model.FileApproval] = malformed(err, "")
		} else {
			for _, a := range doc.Approvers {
				art.Approvals = append(art.Approvals, model.Approval{
					Identity:           a.ID,
					Role:               a.Role,
					Token:              a.Token,
					ConflictOfInterest: a.ConflictOfInterest,
				})
			}
		}
	}

	return art, nil
}

func readOptional(fsys fs.FS, name string) ([]byte, bool, error) {
	data, err := fs.ReadFile(fsys, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	return data, true, nil
}

func malformed(err error, fallback string) string {
	if err != nil {
		return "malformed: " + err.Error()
	}
	return "malformed: " + fallback
}
