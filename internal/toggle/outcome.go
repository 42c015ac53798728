package toggle

// Reason names why a toggle did not succeed.
type Reason string

const (
	ReasonMenuOpenFailed   Reason = "menu_open_failed"
	ReasonItemNotFound     Reason = "item_not_found"
	ReasonDisabled         Reason = "disabled"
	ReasonSubmenuNotFound  Reason = "submenu_not_found"
	ReasonNoChangeDetected Reason = "no_change_detected"
	ReasonNotImplemented   Reason = "not_implemented"
)

// Path is the route a run took through the page.
type Path string

const (
	PathBadge Path = "badge"
	PathMenu  Path = "menu"
)

// Signal is the observation that decided a successful run.
type Signal string

const (
	SignalBadge   Signal = "badge"
	SignalChecked Signal = "checked"
)

// Outcome is the result of one toggle. Failures are values, not errors.
type Outcome struct {
	OK     bool   `json:"ok"`
	Reason Reason `json:"reason,omitempty"`
	Path   Path   `json:"path,omitempty"`
	Signal Signal `json:"signal,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	// Err carries an internal fault that was converted into a failure.
	Err string `json:"error,omitempty"`
}

func failed(r Reason) Outcome { return Outcome{Reason: r} }
