package circulation

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// LoanPeriodDays: 返却期限は貸出日 + 7 日固定
const LoanPeriodDays = 7

type Status string

// borrowed → returned, overdue → returned, borrowed → overdue (sweep)。returned は終端。
const (
	StatusBorrowed Status = "borrowed"
	StatusReturned Status = "returned"
	StatusOverdue  Status = "overdue"
)

func (s Status) Valid() bool {
	switch s {
	case StatusBorrowed, StatusReturned, StatusOverdue:
		return true
	}
	return false
}

// Outstanding reports whether the copy is still out.
func (s Status) Outstanding() bool {
	return s == StatusBorrowed || s == StatusOverdue
}

type Loan struct {
	ID         int64   `json:"id"`
	BookID     int64   `json:"bookId"`
	MemberID   string  `json:"memberId"`
	LoanDate   string  `json:"loanDate"`
	DueDate    string  `json:"dueDate"`
	Status     Status  `json:"status"`
	ReturnedOn *string `json:"returnedOn,omitempty"`
}

// MemberRef accepts a member id sent either as a JSON string or a number.
type MemberRef string

func (m *MemberRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*m = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = MemberRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return err
	}
	*m = MemberRef(n.String())
	return nil
}

type Filter struct {
	MemberID string
	BookID   *int64
	Status   *Status
}
