package pqconn

// Result wraps one server-produced result handle. It owns the handle
// exclusively; Close releases it exactly once. A Result is consumed by one
// caller and must not be shared across goroutines.
type Result struct {
	h      ResultHandle
	closed bool
}

func newResult(h ResultHandle) *Result {
	return &Result{h: h}
}

// Status returns the execution status reported by the transport.
func (r *Result) Status() ResultStatus {
	return r.h.Status()
}

// ErrorMessage returns the human-readable error text, or "" when the result
// does not represent a failure.
func (r *Result) ErrorMessage() string {
	return r.h.ErrorMessage()
}

// RowCount returns the number of rows in the result set.
func (r *Result) RowCount() int {
	return r.h.RowCount()
}

// ColumnNames returns the column names in result order.
func (r *Result) ColumnNames() []string {
	names := make([]string, r.h.ColumnCount())
	for i := range names {
		names[i] = r.h.ColumnName(i)
	}
	return names
}

// Rows materializes the full result grid. Cells are text values; a nil cell
// is the SQL NULL. Nullness comes from the handle's null check, never from
// inspecting the text.
func (r *Result) Rows() [][][]byte {
	rows := make([][][]byte, r.h.RowCount())
	cols := r.h.ColumnCount()
	for i := range rows {
		row := make([][]byte, cols)
		for j := 0; j < cols; j++ {
			if r.h.IsNull(i, j) {
				continue
			}
			value := r.h.Value(i, j)
			row[j] = make([]byte, len(value))
			copy(row[j], value)
		}
		rows[i] = row
	}
	return rows
}

// Check inspects the result's error classification. A non-empty
// classification means the server rejected the request; the returned
// *RequestError always carries both the message and the classification code.
func (r *Result) Check() error {
	code := r.h.SQLState()
	if code == "" {
		return nil
	}
	return &RequestError{Message: r.h.ErrorMessage(), Code: code}
}

// Close releases the underlying handle. It is safe to call Close more than
// once; the handle is released exactly once.
func (r *Result) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.h.Close()
}
