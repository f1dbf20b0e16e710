package domain

import "time"

// DedupStatus tracks whether a raw listing has been through entity resolution.
type DedupStatus string

const (
	DedupPending  DedupStatus = "pending"
	DedupResolved DedupStatus = "resolved"
)

// RawListing is one marketplace's view of one product. The pair
// (SourceID, ExternalID) is unique; crawls upsert rather than duplicate.
type RawListing struct {
	ID              int64
	SourceID        string
	ExternalID      string
	ExternalURL     string
	Name            string
	NormalizedName  string
	NameHash        uint64
	Price           float64
	OriginalPrice   float64
	DiscountPercent float64
	BrandRaw        string
	CategoryRaw     string
	ImageURL        string
	Rating          float64
	ReviewCount     int
	SoldCount       int
	Available       bool
	Specs           map[string]string
	Metadata        map[string]any
	DedupStatus     DedupStatus
	CrawledAt       time.Time
	UpdatedAt       time.Time
}

// PricePoint is one entry in a listing's price history, appended whenever
// an upsert observes a changed price.
type PricePoint struct {
	ListingID  int64
	Price      float64
	RecordedAt time.Time
}

// CanonicalProduct is a cluster of raw listings believed to be the same
// physical product. Aggregates are recomputed on every resolution run that
// touches the cluster.
type CanonicalProduct struct {
	ID             int64
	Name           string
	NormalizedName string
	Slug           string
	BrandID        *int64
	CategoryID     *int64
	MinPrice       float64
	MaxPrice       float64
	AvgRating      float64
	TotalReviews   int
	TotalSold      int
	SourceCount    int
	QualityScore   float64
	IsVerified     bool
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MatchMethod tags how a pair of listings (or a mapping) was matched.
type MatchMethod string

const (
	MatchExact    MatchMethod = "exact"
	MatchFuzzy    MatchMethod = "fuzzy"
	MatchSemantic MatchMethod = "semantic"
	MatchHybrid   MatchMethod = "hybrid"
)

// ProductMapping links one raw listing to exactly one active canonical
// product. Re-clustering retires old mappings before creating new ones.
type ProductMapping struct {
	ID              int64
	RawListingID    int64
	CanonicalID     int64
	ConfidenceScore float64
	Method          MatchMethod
	JobID           string
	Active          bool
	CreatedAt       time.Time
}

// MatchingPair is a write-only audit record of one pairwise comparison
// that cleared the scoring floor.
type MatchingPair struct {
	ListingA    int64
	ListingB    int64
	SourceA     string
	SourceB     string
	Score       float64
	Method      MatchMethod
	CanonicalID int64
	JobID       string
}

// JobStatus is the lifecycle state of a resolution job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ResolutionMode selects between a full rebuild and pending-only processing.
type ResolutionMode string

const (
	ModeFresh       ResolutionMode = "fresh"
	ModeIncremental ResolutionMode = "incremental"
)

// ResolutionPhase is reported through progress events while a job runs.
type ResolutionPhase string

const (
	PhaseBlocking   ResolutionPhase = "blocking"
	PhaseScoring    ResolutionPhase = "scoring"
	PhaseClustering ResolutionPhase = "clustering"
	PhasePersisting ResolutionPhase = "persisting"
	PhaseDone       ResolutionPhase = "done"
	PhaseError      ResolutionPhase = "error"
)

// ResolutionJob is one run of the entity resolution engine.
type ResolutionJob struct {
	ID               string
	Status           JobStatus
	Mode             ResolutionMode
	TotalRaw         int
	Processed        int
	CanonicalCreated int
	MappingsCreated  int
	// SourceBreakdown counts qualifying pairs per source pair, keyed
	// "sourceA|sourceB" with the two ids in lexical order.
	SourceBreakdown map[string]int
	CurrentPhase    ResolutionPhase
	ErrorMessage    string
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// Source describes one marketplace.
type Source struct {
	ID              string
	Name            string
	BaseURL         string
	RequiresBrowser bool
	Active          bool
}

// TargetKind distinguishes category sweeps from keyword searches.
type TargetKind string

const (
	TargetCategory TargetKind = "category"
	TargetKeyword  TargetKind = "keyword"
)

// CrawlTarget is one unit of scheduler work: a category or keyword on one
// source, paginated up to MaxPages.
type CrawlTarget struct {
	SourceID      string
	Kind          TargetKind
	CategoryID    string
	Keyword       string
	MaxPages      int
	LastCrawledAt *time.Time
}

// Key returns a stable identifier for freshness tracking.
func (t CrawlTarget) Key() string {
	if t.Kind == TargetCategory {
		return t.SourceID + ":category:" + t.CategoryID
	}
	return t.SourceID + ":keyword:" + t.Keyword
}

// SessionStatus is the lifecycle state of a crawl session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
	SessionFailed    SessionStatus = "failed"
)

// CrawlSession records one crawl of one target. It is updated best-effort
// during the run and finalized at the end.
type CrawlSession struct {
	ID           string
	SourceID     string
	TargetKey    string
	StartedAt    time.Time
	CompletedAt  *time.Time
	TotalItems   int
	NewItems     int
	UpdatedItems int
	ErrorCount   int
	Status       SessionStatus
}

// Cookie is a normalized pre-authenticated session credential. Format
// sniffing (JSON array, semicolon string, browser export) happens outside
// the core; only this shape is accepted.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}
