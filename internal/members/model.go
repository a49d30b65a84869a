package members

type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusBlocked Status = "blocked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusBlocked:
		return true
	}
	return false
}

// Member は profiles テーブルの1行。パスワードは持たない (auth_accounts 側の bcrypt のみ)。
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Status   Status `json:"status"`
	JoinDate string `json:"joinDate"`
}

type Filter struct {
	Q      string // name / email の部分一致
	Status *Status
}
