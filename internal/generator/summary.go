package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// runSummary is the operational artifact a run writes alongside its
// universe files: a point-in-time count of how the run went, for
// unattended deployments (cmd/universegen-schedule) to alert on without
// scraping logs. It is not a new query surface over universe contents —
// just run bookkeeping, the same spirit as the ETA progress line.
type runSummary struct {
	Date               string        `json:"date"`
	SecurityType       string        `json:"security_type"`
	Market             string        `json:"market"`
	Total              int           `json:"total"`
	Processed          int64         `json:"processed"`
	UnderlyingsMissing int64         `json:"underlyings_missing"`
	Failed             bool          `json:"failed"`
	Elapsed            time.Duration `json:"elapsed"`
}

// writeRunSummary writes <out>/<sec-type>/<market>/universes/_run_<YYYYMMDD>.json,
// best-effort: a failure to write the summary is logged, not fatal to the
// run it describes.
func (o *Orchestrator) writeRunSummary(date time.Time, total int, failed bool) {
	status := o.eta.Snapshot()
	summary := runSummary{
		Date:               date.Format("2006-01-02"),
		SecurityType:       o.Config.SecurityType.String(),
		Market:             o.Config.Market,
		Total:              total,
		Processed:          status.Processed,
		UnderlyingsMissing: status.UnderlyingsMissing,
		Failed:             failed,
		Elapsed:            status.Elapsed,
	}

	dir := filepath.Join(o.Config.OutputRoot, strings.ToLower(o.Config.SecurityType.String()),
		strings.ToLower(o.Config.Market), "universes")
	path := filepath.Join(dir, fmt.Sprintf("_run_%s.json", date.Format("20060102")))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.Logger.WithError(err).Warn("generator: failed to create run summary directory")
		return
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		o.Logger.WithError(err).Warn("generator: failed to marshal run summary")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 -- operational artifact, not sensitive
		o.Logger.WithError(err).Warn("generator: failed to write run summary")
	}
}
