package grades

import "time"

// NoDataMarker is the value the portal reports for a grade field that has not
// been published yet.
const NoDataMarker = "~"

// Credentials identify one portal account.
type Credentials struct {
	Username string
	Password string
}

// Session is the authenticated state of one instance against the portal.
// SessionID and TicketGrantingCookie are opaque bearer tokens; their expiry is
// only discovered by using them.
type Session struct {
	SessionID            string
	ServiceRootURL       string
	RedirectURL          string
	TicketGrantingCookie string
}

// Valid reports whether the session carries an identifier worth trying.
func (s *Session) Valid() bool {
	return s != nil && s.SessionID != ""
}

// Grade holds the published marks of one evaluation.
type Grade struct {
	Max   string `json:"max"`
	Min   string `json:"min"`
	Mean  string `json:"moy"`
	Value string `json:"value"`
}

// Evaluation is one graded assessment within a Resource. ID is assigned by the
// portal and never changes once created.
type Evaluation struct {
	ID          int64              `json:"id"`
	Coef        string             `json:"coef"`
	Date        string             `json:"date"`
	Type        int                `json:"evaluation_type"`
	StartTime   string             `json:"heure_debut"`
	EndTime     string             `json:"heure_fin"`
	Description string             `json:"description,omitempty"`
	Grade       Grade              `json:"note"`
	Weights     map[string]float64 `json:"poids"`
	URL         string             `json:"url"`
}

// Resource is a gradable course unit and its ordered evaluations.
type Resource struct {
	ID          int64        `json:"id"`
	CourseCode  string       `json:"code_apogee,omitempty"`
	Title       string       `json:"titre"`
	URL         string       `json:"url"`
	Evaluations []Evaluation `json:"evaluations"`
	Term        *int         `json:"semestre,omitempty"`
}

// Snapshot maps resource codes to resources: everything known about one
// account's grades at a point in time.
type Snapshot map[string]Resource

// NewEvaluation is one change reported by Diff.
type NewEvaluation struct {
	ResourceCode string
	Resource     Resource
	Evaluation   Evaluation
}

// Notification is the payload handed to a NotificationSink.
type Notification struct {
	Instance     string
	Target       string
	PingPrefix   string
	ResourceCode string
	Resource     Resource
	Evaluation   Evaluation
	Affectation  string
	CycleID      string
	DetectedAt   time.Time
}
