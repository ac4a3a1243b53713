package models

// Profile is the display profile of a verified employee.
// It is read-only once received and replaced wholesale on every new match.
type Profile struct {
	EmployeeID  string `json:"employee_id"`
	Name        string `json:"name"`
	Department  string `json:"department"`
	Designation string `json:"designation"`
	Phone       string `json:"phone"`
	Email       string `json:"email"`
	Address     string `json:"address"`

	// AttendanceAlreadyMarked is true when attendance was recorded by an earlier visit.
	AttendanceAlreadyMarked bool `json:"attendance_already_marked"`
}

// Clone returns a copy safe to hand to renderers.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
