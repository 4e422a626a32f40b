package proctor

import (
	"sort"
	"strings"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// reasonTable maps collector and client reason text to a canonical type.
// Lookups are case-insensitive.
var reasonTable = func() map[string]model.ViolationType {
	t := map[string]model.ViolationType{
		"mobile phone detected":    model.ViolationPhoneDetected,
		"cell phone detected":      model.ViolationPhoneDetected,
		"phone in frame":           model.ViolationPhoneDetected,
		"fullscreen exited":        model.ViolationFullscreenExit,
		"exited fullscreen":        model.ViolationFullscreenExit,
		"tab switched":             model.ViolationTabSwitch,
		"tab switch detected":      model.ViolationTabSwitch,
		"window minimized":         model.ViolationTabSwitch,
		"no face detected":         model.ViolationFaceNotDetected,
		"face not visible":         model.ViolationFaceNotDetected,
		"looking away":             model.ViolationLookingAway,
		"head turned away":         model.ViolationLookingAway,
		"looking away from screen": model.ViolationLookingAway,
	}
	for _, vt := range model.AllViolationTypes() {
		if vt == model.ViolationOther {
			continue
		}
		t[strings.ToLower(vt.Phrase())] = vt
		t[string(vt)] = vt
	}
	return t
}()

// Classify maps free-text reason to a ViolationType. Unmapped reasons are other.
func Classify(reason string) model.ViolationType {
	if vt, ok := reasonTable[strings.ToLower(strings.TrimSpace(reason))]; ok {
		return vt
	}
	return model.ViolationOther
}

// Incident is a composed violation ready for the reporter.
type Incident struct {
	Type     model.ViolationType
	Severity model.Severity
	Reason   string
	Message  string
	Active   []model.ViolationType
	Evidence Evidence
	At       time.Time
}

// WarningData renders the incident for the browser.
func (i Incident) WarningData() model.WarningData {
	return model.WarningData{
		ViolationType: i.Type,
		Message:       i.Message,
		Active:        i.Active,
		Timestamp:     i.Evidence.Timestamp,
	}
}

type reportKey struct {
	vt     model.ViolationType
	bucket int64
}

// Aggregator turns raw signals into debounced, prioritised incidents. It is
// owned by one session loop and is not safe for concurrent use.
//
// A signal is dropped when its (type, minute bucket) key is already in the
// history, or when the same type was reported less than the cooldown ago.
// The two checks are independent.
type Aggregator struct {
	cfg    config.ProctorConfig
	frames *FrameBuffer

	// active holds the reason each type was last asserted with.
	active       map[model.ViolationType]string
	lastReported map[model.ViolationType]time.Time
	history      []reportKey
	seen         map[reportKey]struct{}
}

// NewAggregator returns an empty aggregator. frames may be nil.
func NewAggregator(cfg config.ProctorConfig, frames *FrameBuffer) *Aggregator {
	return &Aggregator{
		cfg:          cfg,
		frames:       frames,
		active:       make(map[model.ViolationType]string),
		lastReported: make(map[model.ViolationType]time.Time),
		history:      make([]reportKey, 0, cfg.ReportHistoryCap),
		seen:         make(map[reportKey]struct{}, cfg.ReportHistoryCap),
	}
}

// Ingest applies sig. It returns an incident and true when the signal
// should be reported, false when it was a clear or was suppressed.
func (a *Aggregator) Ingest(sig model.Signal) (Incident, bool) {
	if sig.Clear {
		delete(a.active, sig.Type)
		return Incident{}, false
	}

	vt := a.typeOf(sig)
	a.active[vt] = sig.Reason

	key := reportKey{vt: vt, bucket: sig.At.UnixMilli() / a.cfg.DedupBucket.Milliseconds()}
	if _, dup := a.seen[key]; dup {
		return Incident{}, false
	}
	if last, ok := a.lastReported[vt]; ok && a.cfg.ReportCooldown > 0 && sig.At.Sub(last) < a.cfg.ReportCooldown {
		return Incident{}, false
	}

	a.lastReported[vt] = sig.At
	a.remember(key)
	return a.compose(vt, sig), true
}

// Describe composes an incident for sig without touching dedup state. The
// controller uses it for hard failures that Ingest suppressed.
func (a *Aggregator) Describe(sig model.Signal) Incident {
	vt := a.typeOf(sig)
	if _, ok := a.active[vt]; !ok {
		a.active[vt] = sig.Reason
	}
	return a.compose(vt, sig)
}

// Active returns the active set, highest priority first.
func (a *Aggregator) Active() []model.ViolationType {
	out := make([]model.ViolationType, 0, len(a.active))
	for vt := range a.active {
		out = append(out, vt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})
	return out
}

// Message renders the active set, falling back to reason when it is empty.
func (a *Aggregator) Message(reason string) string {
	active := a.Active()
	if len(active) == 0 {
		return reason
	}
	parts := make([]string, 0, len(active))
	for _, vt := range active {
		parts = append(parts, a.phrase(vt))
	}
	return strings.Join(parts, ", ")
}

func (a *Aggregator) typeOf(sig model.Signal) model.ViolationType {
	if sig.Type.Valid() {
		return sig.Type
	}
	return Classify(sig.Reason)
}

// phrase renders other with the text it was raised with.
func (a *Aggregator) phrase(vt model.ViolationType) string {
	if vt == model.ViolationOther {
		if r := strings.TrimSpace(a.active[vt]); r != "" {
			return r
		}
	}
	return vt.Phrase()
}

func (a *Aggregator) remember(key reportKey) {
	if len(a.history) >= a.cfg.ReportHistoryCap {
		evict := min(a.cfg.ReportHistoryEvict, len(a.history))
		for _, k := range a.history[:evict] {
			delete(a.seen, k)
		}
		a.history = append(a.history[:0], a.history[evict:]...)
	}
	a.history = append(a.history, key)
	a.seen[key] = struct{}{}
}

func (a *Aggregator) compose(vt model.ViolationType, sig model.Signal) Incident {
	var ev Evidence
	if sig.NoEvidence {
		ev = Evidence{Timestamp: sig.At.UTC().Format(time.RFC3339)}
	} else {
		ev = a.frames.Capture(sig.At)
	}
	return Incident{
		Type:     vt,
		Severity: sig.Severity,
		Reason:   sig.Reason,
		Message:  a.Message(sig.Reason),
		Active:   a.Active(),
		Evidence: ev,
		At:       sig.At,
	}
}
