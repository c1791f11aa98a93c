package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/odvcencio/metastore/pkg/gitgraph"
	"github.com/odvcencio/metastore/pkg/metastore"
	"github.com/odvcencio/metastore/pkg/object"
)

const repositoryQuery = `query RepoFiles($owner: String!, $name: String!, $ref: String!, $expr: String!) {
  repository(owner: $owner, name: $name) {
    description
    createdAt
    updatedAt
    ref(qualifiedName: $ref) {
      target {
        ... on Commit {
          history(first: 1) {
            nodes {
              oid
              message
              author { name email date }
            }
          }
        }
      }
    }
    object(expression: $expr) {
      ... on Tree {
        entries {
          name
          path
          type
          oid
          object {
            ... on Blob { isBinary text }
          }
        }
      }
    }
  }
}`

type graphqlError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type repositoryData struct {
	Repository *struct {
		Description *string   `json:"description"`
		CreatedAt   time.Time `json:"createdAt"`
		UpdatedAt   time.Time `json:"updatedAt"`
		Ref         *struct {
			Target struct {
				History struct {
					Nodes []struct {
						OID     string `json:"oid"`
						Message string `json:"message"`
						Author  struct {
							Name  string    `json:"name"`
							Email string    `json:"email"`
							Date  time.Time `json:"date"`
						} `json:"author"`
					} `json:"nodes"`
				} `json:"history"`
			} `json:"target"`
		} `json:"ref"`
		Object *struct {
			Entries []struct {
				Name   string `json:"name"`
				Path   string `json:"path"`
				Type   string `json:"type"`
				OID    string `json:"oid"`
				Object *struct {
					IsBinary bool    `json:"isBinary"`
					Text     *string `json:"text"`
				} `json:"object"`
			} `json:"entries"`
		} `json:"object"`
	} `json:"repository"`
}

// GetRepository reads the repository description, timestamps, the last
// commit on branch and the root tree entries with their text.
func (c *Client) GetRepository(ctx context.Context, r gitgraph.Repository, branch string) (*gitgraph.Snapshot, error) {
	if branch == "" {
		branch = "main"
	}
	req := struct {
		Query     string            `json:"query"`
		Variables map[string]string `json:"variables"`
	}{
		Query: repositoryQuery,
		Variables: map[string]string{
			"owner": r.Owner,
			"name":  r.Name,
			"ref":   "refs/heads/" + branch,
			"expr":  branch + ":",
		},
	}
	var resp struct {
		Data   repositoryData `json:"data"`
		Errors []graphqlError `json:"errors"`
	}
	if err := c.doURL(ctx, http.MethodPost, c.graphqlURL, req, &resp, http.StatusOK, responseLimitGraphQL); err != nil {
		return nil, err
	}

	repo := resp.Data.Repository
	if repo == nil {
		for _, e := range resp.Errors {
			if e.Type == "NOT_FOUND" {
				return nil, fmt.Errorf("%w: repository %s: %s", metastore.ErrNotFound, r, e.Message)
			}
		}
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("%w: graphql: %s", metastore.ErrTransport, joinErrors(resp.Errors))
		}
		return nil, fmt.Errorf("%w: repository %s", metastore.ErrNotFound, r)
	}
	if repo.Ref == nil || len(repo.Ref.Target.History.Nodes) == 0 {
		return nil, fmt.Errorf("%w: %s has no branch %q", metastore.ErrRefNotFound, r, branch)
	}

	head := repo.Ref.Target.History.Nodes[0]
	snap := &gitgraph.Snapshot{
		Repository: r,
		Branch:     branch,
		CreatedAt:  repo.CreatedAt,
		UpdatedAt:  repo.UpdatedAt,
		Head: gitgraph.HeadCommit{
			SHA:     object.Hash(head.OID),
			Message: head.Message,
			Author: gitgraph.Person{
				Name:  head.Author.Name,
				Email: head.Author.Email,
				Date:  head.Author.Date,
			},
		},
	}
	if repo.Description != nil {
		snap.Description = *repo.Description
	}
	if repo.Object != nil {
		for _, e := range repo.Object.Entries {
			se := gitgraph.SnapshotEntry{
				Name: e.Name,
				Path: e.Path,
				Type: object.ObjectType(e.Type),
				SHA:  object.Hash(e.OID),
			}
			if e.Object != nil && !e.Object.IsBinary {
				se.Text = e.Object.Text
			}
			snap.Entries = append(snap.Entries, se)
		}
	}
	return snap, nil
}

func joinErrors(errs []graphqlError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
