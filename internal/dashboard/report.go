package dashboard

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"libportal/internal/platform/apierr"
)

// ReportRow は貸出レポートの1行。
type ReportRow struct {
	LoanID     int64
	BookTitle  string
	MemberName string
	LoanDate   string
	DueDate    string
	ReturnedOn string
	Status     string
}

const reportQuery = `
SELECT l.id, COALESCE(b.title, ''), COALESCE(p.name, l.member_id),
       l.loan_date, l.due_date, COALESCE(l.returned_on, ''), l.status
FROM loans l
LEFT JOIN books b    ON b.id = l.book_id
LEFT JOIN profiles p ON p.id = l.member_id
ORDER BY l.id`

func (s *Service) ReportRows(ctx context.Context) ([]ReportRow, error) {
	rows, err := s.db.QueryContext(ctx, reportQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ReportRow, 0, 64)
	for rows.Next() {
		var r ReportRow
		if err := rows.Scan(&r.LoanID, &r.BookTitle, &r.MemberName, &r.LoanDate, &r.DueDate, &r.ReturnedOn, &r.Status); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Encoding は CSV の文字コード。Excel でそのまま開けるよう BOM を付ける。
type Encoding string

const (
	EncodingUTF8  Encoding = "utf-8"
	EncodingUTF16 Encoding = "utf-16" // little endian
)

func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utf8", "utf-8":
		return EncodingUTF8, nil
	case "utf16", "utf-16", "utf-16le":
		return EncodingUTF16, nil
	default:
		return "", apierr.ErrInvalid("encoding must be utf-8 or utf-16")
	}
}

func (e Encoding) writer(w io.Writer) io.Writer {
	if e == EncodingUTF16 {
		return transform.NewWriter(w, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder())
	}
	return transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
}

// WriteReport writes the summary block followed by every loan as CSV.
func WriteReport(dst io.Writer, enc Encoding, st *Stats, rows []ReportRow) error {
	tw := enc.writer(dst)
	w := csv.NewWriter(tw)
	itoa := func(n int64) string { return strconv.FormatInt(n, 10) }

	records := [][]string{
		{"Ringkasan", ""},
		{"Judul Buku", itoa(st.TotalTitles)},
		{"Total Eksemplar", itoa(st.TotalCopies)},
		{"Anggota Aktif", itoa(st.ActiveMembers)},
		{"Dipinjam", itoa(st.Borrowed)},
		{"Terlambat", itoa(st.Overdue)},
		{},
		{"ID", "Judul", "Anggota", "Tanggal Pinjam", "Jatuh Tempo", "Dikembalikan", "Status"},
	}
	for _, r := range rows {
		records = append(records, []string{
			itoa(r.LoanID), r.BookTitle, r.MemberName, r.LoanDate, r.DueDate, r.ReturnedOn, r.Status,
		})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	if c, ok := tw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// GET /dashboard/report.csv?encoding=utf-16
func reportHandler(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		enc, err := ParseEncoding(c.Query("encoding"))
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		ctx := c.Request.Context()
		st, err := svc.Stats(ctx)
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		rows, err := svc.ReportRows(ctx)
		if err != nil {
			apierr.Abort(c, err)
			return
		}

		var b bytes.Buffer
		if err := WriteReport(&b, enc, st, rows); err != nil {
			apierr.Abort(c, err)
			return
		}
		c.Header("Content-Disposition", `attachment; filename="laporan-perpustakaan.csv"`)
		c.Data(http.StatusOK, "text/csv; charset="+string(enc), b.Bytes())
	}
}
