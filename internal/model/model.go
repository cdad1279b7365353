// Package model defines the records shared across the crawl pipeline:
// tracked companies, discovered cases, and their filed documents.
//
// Jurisdiction-specific fields live in explicitly named extension structs
// (CaseDetailsNY, CaseDetailsCT, ...) attached to the common record. Code that
// needs jurisdiction-specific behavior dispatches on the Jurisdiction code,
// never on the concrete shape of the record.
package model

import "time"

// Jurisdiction identifies a target court site.
type Jurisdiction string

// Supported jurisdictions.
const (
	JurisdictionNY Jurisdiction = "NY"
	JurisdictionCT Jurisdiction = "CT"
)

// Mode selects which cases a re-crawl run targets.
type Mode string

// Re-crawl modes accepted by the detail stage and the coordinator.
const (
	// ModeNew selects cases discovered but never detailed.
	ModeNew Mode = "new"
	// ModeExisting re-visits already-detailed cases to refresh their fields.
	ModeExisting Mode = "existing"
	// ModeFlagged selects only cases whose case number looks unassigned.
	ModeFlagged Mode = "flagged"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNew, ModeExisting, ModeFlagged:
		return true
	}
	return false
}

// Company is a tracked entity plus its known name variations. Companies are
// created by data import and are read-only during crawling.
type Company struct {
	ID      int64
	Name    string
	Aliases []string
}

// Case is one court case discovered by the search stage, uniquely identified
// by (Jurisdiction, DocketID). The docket id is parsed once from the case
// URL's query parameter at discovery time and never recomputed.
type Case struct {
	ID           int64
	Jurisdiction Jurisdiction
	CompanyID    int64
	CompanyAlias string

	DocketID   string
	CaseNumber string
	Caption    string
	Court      string
	CaseType   string
	// CaseDate is the canonical date of the case: received date for NY,
	// file date for CT.
	CaseDate time.Time
	Status   string
	URL      string

	FoundAt    time.Time
	Detailed   bool
	DetailedAt *time.Time

	NY *CaseDetailsNY
	CT *CaseDetailsCT
}

// CaseDetailsNY holds fields unique to the NY eCourts search.
type CaseDetailsNY struct {
	ReceivedDate  time.Time
	EfilingStatus string
	CaseStatus    string
}

// CaseDetailsCT holds fields unique to the Connecticut judicial inquiry site.
type CaseDetailsCT struct {
	PartyName  string
	PtyNumber  string
	SelfRep    bool
	Prefix     string
	FileDate   time.Time
	ReturnDate time.Time
}

// Document is one filed document on a case, uniquely identified by
// (CaseID, DocumentID) within a jurisdiction.
type Document struct {
	ID           int64
	CaseID       int64
	Jurisdiction Jurisdiction
	// CaseDocketID is denormalized from the owning case so sink keys can be
	// derived without a second lookup.
	CaseDocketID string

	DocumentID string
	Name       string
	URL        string

	Downloaded   bool
	DownloadedAt *time.Time
	StoragePath  string

	NY *DocumentDetailsNY
	CT *DocumentDetailsCT
}

// DocumentDetailsNY holds NY-specific document metadata, including the
// optional companion "status document" link.
type DocumentDetailsNY struct {
	Description        string
	FiledBy            string
	FiledDate          time.Time
	StatusDocumentURL  string
	StatusDocumentName string
}

// DocumentDetailsCT holds CT-specific document metadata.
type DocumentDetailsCT struct {
	EntryNo  string
	FileDate time.Time
	FiledBy  string
	Arguable string
}

// MarkDetailed flips the detailed flag. The transition is monotonic: once a
// case is detailed it never reverts.
func (c *Case) MarkDetailed(now time.Time) {
	c.Detailed = true
	c.DetailedAt = &now
}

// MarkDownloaded records a completed download. Monotonic, like MarkDetailed.
func (d *Document) MarkDownloaded(path string, now time.Time) {
	d.Downloaded = true
	d.DownloadedAt = &now
	d.StoragePath = path
}
