package identity

import (
	"context"
	"errors"
	"net/url"

	"github.com/kozaktomas/attendance-kiosk/internal/models"
)

type profileResponse struct {
	Status flexBool `json:"status"`
	Data   struct {
		EmployeeID  flexString `json:"employeeId"`
		Name        string     `json:"name"`
		Department  string     `json:"department"`
		Designation string     `json:"designation"`
		Phone       flexString `json:"phone"`
		Email       string     `json:"email"`
		Address     string     `json:"address"`
		// AttendanceMarked is true when this lookup recorded the attendance.
		AttendanceMarked flexBool `json:"attendance_marked"`
	} `json:"data"`
}

// LookupProfile fetches the profile of a matched identity. Unknown
// identities yield a nil Value with no error.
func (c *Client) LookupProfile(ctx context.Context, attemptID, faceID string) Outcome[*models.Profile] {
	profile, err := c.lookupProfile(ctx, faceID)
	return Outcome[*models.Profile]{AttemptID: attemptID, Value: profile, Err: err}
}

func (c *Client) lookupProfile(ctx context.Context, faceID string) (*models.Profile, error) {
	resp, err := doGetJSON[profileResponse](ctx, c, c.profileURL+"/"+url.PathEscape(faceID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !bool(resp.Status) {
		return nil, nil
	}

	d := resp.Data
	return &models.Profile{
		EmployeeID:              string(d.EmployeeID),
		Name:                    d.Name,
		Department:              d.Department,
		Designation:             d.Designation,
		Phone:                   string(d.Phone),
		Email:                   d.Email,
		Address:                 d.Address,
		AttendanceAlreadyMarked: !bool(d.AttendanceMarked),
	}, nil
}
