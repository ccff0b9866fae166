package domain

import "context"

// ProfileCache defines persistence operations for profile snapshots.
type ProfileCache interface {
	// Get returns the cached snapshot for a DID, or nil if none is stored.
	Get(ctx context.Context, did string) (*Profile, error)

	// Put upserts a snapshot. A nil profile is rejected; it would corrupt
	// the row with a literal "null".
	Put(ctx context.Context, did string, p *Profile) error

	// Delete removes the row for a DID.
	Delete(ctx context.Context, did string) error

	// SkipFetch returns the cached snapshot iff it exists and is fresh,
	// otherwise nil.
	SkipFetch(ctx context.Context, did string) (*Profile, error)

	// ScanDIDs calls fn for every stored DID until fn returns an error.
	ScanDIDs(ctx context.Context, fn func(did string) error) error
}

// ProfileAPI defines the remote profile read operations.
type ProfileAPI interface {
	// GetProfile fetches a single profile by DID or handle.
	GetProfile(ctx context.Context, actor string) (*Profile, error)

	// GetProfiles fetches up to 25 profiles in one call. DIDs must be
	// distinct. Actors the server cannot resolve are omitted from the
	// result rather than failing the batch.
	GetProfiles(ctx context.Context, dids []string) ([]*Profile, error)
}

// ListAPI defines the remote list and membership write operations.
type ListAPI interface {
	// CreateList publishes a new moderation list and returns its AT-URI.
	CreateList(ctx context.Context, name, description string) (string, error)

	// ListMyLists returns the lists published by the authenticated account.
	ListMyLists(ctx context.Context) ([]ListRef, error)

	// ListMembers returns every membership of a list, fully paginated.
	ListMembers(ctx context.Context, listURI string) ([]Entry, error)

	// CreateMember adds a DID to a list and returns the record key of the
	// membership record.
	CreateMember(ctx context.Context, listURI, did string) (string, error)

	// DeleteMember deletes a membership record by record key.
	DeleteMember(ctx context.Context, rkey string) error

	// DeleteList deletes the list record itself by record key.
	DeleteList(ctx context.Context, rkey string) error
}
