package api

// FolderKind is the MIME type the remote service uses for folders.
// An item is a directory exactly when its Kind equals FolderKind.
const FolderKind = "application/vnd.google-apps.folder"

// RootID is the remote identifier that addresses the top of the remote tree.
const RootID = "root"

// RemoteItem is one direct child as reported by a remote listing.
type RemoteItem struct {
	// RemoteID is the opaque identifier assigned by the remote service.
	RemoteID string `json:"id"`
	// Name is the display name at listing time.
	Name string `json:"name"`
	// Kind is the MIME type of the item.
	Kind string `json:"mimeType"`
}

// IsDir reports whether the item is a folder.
func (i RemoteItem) IsDir() bool {
	return i.Kind == FolderKind
}
