package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// FingerprintInput is the fixed field tuple a line fingerprint is computed
// over. Field order is part of the contract and must never change within
// an engine version.
type FingerprintInput struct {
	SKUID        string
	QuantityEach float64
	UOMKey       string
	UnitPriceRaw float64
	NettPrice    float64
	NettValue    float64
	Date         time.Time
	SupplierID   string
	RulesetID    string
}

// Fingerprinter computes stable SHA-256 line identities.
type Fingerprinter struct {
	engineVersion string
}

// NewFingerprinter constructs a fingerprinter for an engine version.
func NewFingerprinter(engineVersion string) (*Fingerprinter, error) {
	if engineVersion == "" {
		return nil, ErrEmptyEngineVersion
	}
	return &Fingerprinter{engineVersion: engineVersion}, nil
}

// Compute returns the lowercase hex SHA-256 digest of the pipe-joined
// field tuple. The empty string is the failure sentinel; callers must
// treat it as fatal for the line and never persist it.
func (f *Fingerprinter) Compute(in FingerprintInput) string {
	if f == nil || f.engineVersion == "" {
		return ""
	}
	fields := []string{
		in.SKUID,
		formatFloat(in.QuantityEach),
		in.UOMKey,
		formatFloat(in.UnitPriceRaw),
		formatFloat(in.NettPrice),
		formatFloat(in.NettValue),
		formatDate(in.Date),
		in.SupplierID,
		in.RulesetID,
		f.engineVersion,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])
}

// EngineVersion returns the version baked into fingerprints.
func (f *Fingerprinter) EngineVersion() string {
	if f == nil {
		return ""
	}
	return f.engineVersion
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
