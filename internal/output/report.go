package output

import (
	"time"

	"github.com/sdpower/usagebar-go/internal/poller"
	"github.com/sdpower/usagebar-go/internal/projection"
	"github.com/sdpower/usagebar-go/internal/types"
)

// Source is the read surface a Report is built from.
type Source interface {
	State() poller.State
	AllDisplayUsages() []projection.DisplayUsage
	MaxDisplayUsage() projection.DisplayUsage
	PrimaryStatus() projection.Status
	TimeProgress() float64
	LastUpdatedText() string
}

// Report is a point-in-time view of the engine, shared by the CLI output
// and the /state endpoint.
type Report struct {
	GeneratedAt          time.Time                 `json:"generated_at"`
	Usages               []projection.DisplayUsage `json:"usages"`
	Highest              projection.DisplayUsage   `json:"highest"`
	PrimaryStatus        projection.Status         `json:"primary_status"`
	TimeProgress         float64                   `json:"time_progress"`
	IsLoading            bool                      `json:"is_loading"`
	IsNetworkAvailable   bool                      `json:"is_network_available"`
	LastUpdated          *time.Time                `json:"last_updated,omitempty"`
	LastUpdatedText      string                    `json:"last_updated_text"`
	Error                *ErrorView                `json:"error,omitempty"`
	RefreshIntervalSec   int                       `json:"refresh_interval_sec"`
	NotificationsEnabled bool                      `json:"notifications_enabled"`
}

type ErrorView struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func BuildReport(src Source, now time.Time) Report {
	state := src.State()
	usages := src.AllDisplayUsages()
	if usages == nil {
		usages = []projection.DisplayUsage{}
	}
	return Report{
		GeneratedAt:          now,
		Usages:               usages,
		Highest:              src.MaxDisplayUsage(),
		PrimaryStatus:        src.PrimaryStatus(),
		TimeProgress:         src.TimeProgress(),
		IsLoading:            state.IsLoading,
		IsNetworkAvailable:   state.IsNetworkAvailable,
		LastUpdated:          state.LastUpdated,
		LastUpdatedText:      src.LastUpdatedText(),
		Error:                NewErrorView(state.LastError),
		RefreshIntervalSec:   int(state.RefreshInterval / time.Second),
		NotificationsEnabled: state.NotificationsEnabled,
	}
}

// NewErrorView describes err for display, or returns nil for a nil error.
func NewErrorView(err error) *ErrorView {
	if err == nil {
		return nil
	}
	if apiErr, ok := types.AsAPIError(err); ok {
		return &ErrorView{
			Kind:      apiErr.Kind.String(),
			Message:   apiErr.Description(),
			Retryable: apiErr.IsRetryable(),
		}
	}
	return &ErrorView{Kind: "unknown", Message: err.Error()}
}
