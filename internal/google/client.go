package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// ClientOptions builds the service-account credentials shared by the
// Sheets and Calendar clients. Inline JSON wins over the file path.
func ClientOptions(ctx context.Context, credentialsFile, credentialsJSON string) ([]option.ClientOption, error) {
	data := []byte(strings.TrimSpace(credentialsJSON))
	if len(data) == 0 {
		if credentialsFile == "" {
			return nil, errors.New("google credentials not configured")
		}
		var err error
		data, err = os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials: %w", err)
		}
	}

	creds, err := google.CredentialsFromJSON(ctx, data, sheets.SpreadsheetsScope, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

// NewLimiter returns the limiter shared by both APIs. A non-positive rate
// disables limiting.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == 404 || gerr.Code == 410
	}
	return false
}
