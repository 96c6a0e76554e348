package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const contributionsQuery = `query {
  viewer {
    contributionsCollection {
      contributionCalendar {
        weeks {
          contributionDays {
            date
            contributionCount
            contributionLevel
          }
        }
      }
    }
  }
}`

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLError struct {
	Message string `json:"message"`
}

// Every level is a pointer so a missing key can be told apart from a zero value.
type contributionsResponse struct {
	Data *struct {
		Viewer *struct {
			ContributionsCollection *struct {
				ContributionCalendar *struct {
					Weeks *[]json.RawMessage `json:"weeks"`
				} `json:"contributionCalendar"`
			} `json:"contributionsCollection"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

func (r *contributionsResponse) weeks() ([]json.RawMessage, bool) {
	if r.Data == nil || r.Data.Viewer == nil ||
		r.Data.Viewer.ContributionsCollection == nil ||
		r.Data.Viewer.ContributionsCollection.ContributionCalendar == nil ||
		r.Data.Viewer.ContributionsCollection.ContributionCalendar.Weeks == nil {
		return nil, false
	}
	return *r.Data.Viewer.ContributionsCollection.ContributionCalendar.Weeks, true
}

type graphQLWeek struct {
	ContributionDays *[]json.RawMessage `json:"contributionDays"`
}

type graphQLDay struct {
	Date              *string `json:"date"`
	ContributionCount *int    `json:"contributionCount"`
	ContributionLevel *string `json:"contributionLevel"`
}

// FetchContributions returns the viewer's contribution calendar
func (c *Client) FetchContributions(ctx context.Context, token string) (*Contributions, error) {
	payload, err := json.Marshal(graphQLRequest{Query: contributionsQuery})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/graphql", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.do(c.authorizedClient(ctx, token), req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, NewNetworkError(status, truncate(string(body), 200))
	}

	return decodeContributions(body)
}

func decodeContributions(body []byte) (*Contributions, error) {
	var resp contributionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, ErrInvalidResponse
	}

	if len(resp.Errors) > 0 {
		messages := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			messages = append(messages, e.Message)
		}
		return nil, &UnknownError{Detail: strings.Join(messages, ", ")}
	}

	rawWeeks, ok := resp.weeks()
	if !ok {
		return nil, ErrInvalidResponse
	}

	contributions := &Contributions{Weeks: make([]Week, 0, len(rawWeeks))}
	for _, rawWeek := range rawWeeks {
		var w graphQLWeek
		if err := json.Unmarshal(rawWeek, &w); err != nil || w.ContributionDays == nil {
			continue
		}

		week := Week{Days: make([]Day, 0, len(*w.ContributionDays))}
		for _, rawDay := range *w.ContributionDays {
			var d graphQLDay
			if err := json.Unmarshal(rawDay, &d); err != nil {
				continue
			}
			if d.Date == nil || d.ContributionCount == nil || d.ContributionLevel == nil {
				continue
			}
			week.Days = append(week.Days, Day{
				Date:  *d.Date,
				Count: *d.ContributionCount,
				Level: LevelFromLabel(*d.ContributionLevel),
			})
		}
		contributions.Weeks = append(contributions.Weeks, week)
	}

	return contributions, nil
}
