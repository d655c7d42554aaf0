package google

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// PeopleClient implements the contact directory collaborator against the
// Google People v1 API.
type PeopleClient struct {
	*client
	baseURL string
}

func NewPeopleClient(tokens TokenSource) *PeopleClient {
	return &PeopleClient{client: newClient(tokens, 0), baseURL: peopleBaseURL}
}

type person struct {
	Names        []personName        `json:"names,omitempty"`
	PhoneNumbers []personPhoneNumber `json:"phoneNumbers,omitempty"`
}

type personName struct {
	GivenName string `json:"givenName,omitempty"`
}

type personPhoneNumber struct {
	Value string `json:"value,omitempty"`
}

type connectionList struct {
	Connections   []person `json:"connections"`
	NextPageToken string   `json:"nextPageToken"`
}

// ListContacts returns every phone number stored for the account, following
// pagination to the end.
func (c *PeopleClient) ListContacts(ctx context.Context, businessID string) ([]string, error) {
	var numbers []string
	pageToken := ""
	for {
		q := url.Values{}
		q.Set("personFields", "names,phoneNumbers")
		q.Set("pageSize", "1000")
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		var page connectionList
		endpoint := fmt.Sprintf("%s/people/me/connections?%s", c.baseURL, q.Encode())
		if err := c.do(ctx, businessID, http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, fmt.Errorf("list contacts: %w", err)
		}

		for _, p := range page.Connections {
			for _, n := range p.PhoneNumbers {
				if n.Value != "" {
					numbers = append(numbers, n.Value)
				}
			}
		}

		if page.NextPageToken == "" {
			return numbers, nil
		}
		pageToken = page.NextPageToken
	}
}

// CreateContact stores a new contact with one name and one phone number.
func (c *PeopleClient) CreateContact(ctx context.Context, businessID, name, number string) error {
	body := person{
		Names:        []personName{{GivenName: name}},
		PhoneNumbers: []personPhoneNumber{{Value: number}},
	}
	endpoint := c.baseURL + "/people:createContact"
	if err := c.do(ctx, businessID, http.MethodPost, endpoint, body, nil); err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}
