package api

// User is the backend's user record. The backend is authoritative for role;
// the identity provider has no notion of it.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Username string `json:"username"`
	USN      string `json:"usn"`
	Bio      string `json:"bio"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
}

const (
	RoleStudent = "STUDENT"
	RoleAdmin   = "ADMIN"
)

// SearchResult is the projection the search endpoint returns per user.
type SearchResult struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

type Project struct {
	ID            int64    `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	GithubURL     string   `json:"githubUrl,omitempty"`
	DemoURL       string   `json:"demoUrl,omitempty"`
	ReadmeContent string   `json:"readmeContent,omitempty"`
	User          *UserRef `json:"user,omitempty"`
}

// UserRef carries the owner reference the backend expects on project writes.
type UserRef struct {
	ID int64 `json:"id"`
}

type Stats struct {
	Users    int64 `json:"users"`
	Projects int64 `json:"projects"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	USN      string `json:"usn"`
	Bio      string `json:"bio"`
	Role     string `json:"role"`
}
