package model

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"path"
	"slices"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Run bundle layout. Paths are slash-separated and relative to the bundle root.
const (
	FileContract   = "contract.json"
	FileReport     = "report.md"
	FileApproval   = "approval.json"
	FileRandomness = "randomness.json"
	FileInvariants = "validation/invariant_results.json"
	FileManifest   = "SHA256SUMS.txt"
)

// Digest algorithms accepted in a manifest. A bare hex digest is SHA-256.
const (
	AlgoSHA256     = "sha256"
	AlgoBLAKE2b256 = "blake2b-256"
)

func newHash(algo string) (hash.Hash, error) {
	switch algo {
	case AlgoSHA256:
		return sha256.New(), nil
	case AlgoBLAKE2b256:
		return blake2b.New256(nil)
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algo)
	}
}

// ParseDigest splits a manifest digest into algorithm and lowercase hex.
func ParseDigest(s string) (algo, digest string, err error) {
	algo, digest = AlgoSHA256, s
	if a, d, ok := strings.Cut(s, ":"); ok {
		algo, digest = a, d
	}
	if _, err := newHash(algo); err != nil {
		return "", "", err
	}
	if _, err := hex.DecodeString(digest); err != nil || len(digest) != 64 {
		return "", "", fmt.Errorf("malformed %s digest %q", algo, s)
	}
	return algo, strings.ToLower(digest), nil
}

// FormatDigest renders a digest as recorded in a manifest.
func FormatDigest(algo, digest string) string {
	if algo == AlgoSHA256 {
		return digest
	}
	return algo + ":" + digest
}

// Digest hashes r with algo and returns lowercase hex.
func Digest(algo string, r io.Reader) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ParseManifest reads "<digest>  <path>" lines. Blank lines and "#" comments
// are ignored.
// Paths must be relative and must not escape the bundle root.
func ParseManifest(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" || strings.HasPrefix(text, "#") {
			continue
		}
		digest, name, ok := strings.Cut(text, "  ")
		if !ok || name == "" {
			return nil, fmt.Errorf("manifest line %d: expected \"<digest>  <path>\"", line)
		}
		if _, _, err := ParseDigest(digest); err != nil {
			return nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		if path.IsAbs(name) || !isLocal(name) {
			return nil, fmt.Errorf("manifest line %d: path %q escapes bundle", line, name)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("manifest line %d: duplicate path %q", line, name)
		}
		out[name] = digest
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isLocal(name string) bool {
	clean := path.Clean(name)
	return clean == name && clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

// FormatManifest renders checksums as manifest lines sorted by path.
func FormatManifest(checksums map[string]string) []byte {
	names := make([]string, 0, len(checksums))
	for name := range checksums {
		names = append(names, name)
	}
	slices.Sort(names)

	var buf bytes.Buffer
	for _, name := range names {
		fmt.Fprintf(&buf, "%s  %s\n", checksums[name], name)
	}
	return buf.Bytes()
}
