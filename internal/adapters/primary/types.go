package primary

// Project is a project as reported by the Primary tracker.
type Project struct {
	ID         string `json:"id"`
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

// Issue is an issue as reported by the Primary tracker. Status, Priority,
// and Type carry the Primary vocabulary verbatim; the mapper validates them.
// ModifiedOn is milliseconds since epoch; zero means the tracker omitted it.
type Issue struct {
	ID                string `json:"id"`
	Identifier        string `json:"identifier"`
	ProjectIdentifier string `json:"projectIdentifier"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Status            string `json:"status"`
	Priority          string `json:"priority"`
	Type              string `json:"type"`
	ModifiedOn        int64  `json:"modifiedOn"`
}
