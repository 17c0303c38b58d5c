package config

import (
	"math"
	"strconv"
	"strings"
)

const (
	// JobIDEnvVar supplies the scheduler job identifier used in checkpoint prefixes.
	JobIDEnvVar = "SLURM_JOB_ID"
	// missingJobID keeps prefixes compatible with runs started outside a scheduler.
	missingJobID = "None"

	clusterScheduler = "cluster_sd"
)

// FormatFloat renders f the way checkpoint prefixes have always spelled numbers:
// the shortest round-trip representation, integral values keep a trailing ".0",
// and magnitudes below 1e-4 or from 1e16 up use exponent notation ("1e-05").
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}
	abs := math.Abs(f)
	if abs < 1e-4 || abs >= 1e16 {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	if f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// preferenceTag is the leading component of the checkpoint prefix.
func preferenceTag(emb bool, embeddingsPath string, dyn DynamicConfig, stepUnrolled bool) string {
	pref := "tencdm"
	if emb {
		pref = "emb"
	}
	if embeddingsPath != "" {
		pref = embeddingsPath[strings.LastIndex(embeddingsPath, "/")+1:]
	}
	if dyn.Scheduler == clusterScheduler {
		var b strings.Builder
		b.WriteString("cluster_delta")
		b.WriteString(FormatFloat(dyn.Delta))
		b.WriteString("_min")
		b.WriteString(FormatFloat(dyn.SigmaMin))
		b.WriteString("_max")
		b.WriteString(FormatFloat(dyn.SigmaMax))
		b.WriteString("_d")
		b.WriteString(strconv.Itoa(dyn.CoefD))
		if stepUnrolled {
			b.WriteString("_step_unrolled")
		}
		pref = b.String()
	}
	return pref
}

// CheckpointPrefix joins the preference tag, dataset, run name and job id.
func CheckpointPrefix(pref, dataset, runName, jobID string) string {
	return strings.Join([]string{pref, dataset, runName, jobID}, "-")
}
