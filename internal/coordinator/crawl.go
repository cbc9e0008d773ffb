package coordinator

import (
	"context"
	"log/slog"

	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

// Fetcher reads one resource path. *pointtapi.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, path string) (any, error)
}

// DefaultRoots are the traversal seeds, visited in this order.
var DefaultRoots = []string{
	"/gateway",
	"/heatingCircuits/hc1",
	"/dhwCircuits/dhw1",
	"/system/sensors",
	"/system/appliance",
	"/zones/zn1",
	"/energy",
}

// DefaultPrimaryRoot is the root whose failure fails the whole cycle.
const DefaultPrimaryRoot = "/gateway"

type crawlResult struct {
	nodes   map[string]pointtapi.Node
	fetched int
	skipped int
}

// crawler walks the resource graph for one cycle. Everything is sequential
// and in server order: roots, then each root's references, then the
// references of any refEnum reference.
type crawler struct {
	fetcher Fetcher
	primary string
	logger  *slog.Logger

	res crawlResult
}

func crawl(ctx context.Context, f Fetcher, roots []string, primary string, logger *slog.Logger) (crawlResult, error) {
	c := &crawler{
		fetcher: f,
		primary: primary,
		logger:  logger,
		res:     crawlResult{nodes: make(map[string]pointtapi.Node)},
	}

	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return crawlResult{}, err
		}

		if err := c.visitRoot(ctx, root); err != nil {
			return crawlResult{}, err
		}
	}

	return c.res, nil
}

func (c *crawler) visitRoot(ctx context.Context, root string) error {
	body, err := c.fetcher.Get(ctx, root)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if root == c.primary {
			if IsAuthFailure(err) {
				return err
			}

			c.logger.Warn("primary root fetch failed",
				slog.String("path", root),
				slog.String("error", err.Error()),
			)

			return &UpdateError{Path: root, Err: err}
		}

		c.skip(root, err)

		return nil
	}

	c.res.fetched++

	node, ok := pointtapi.AsNode(body)
	if !ok {
		c.logger.Debug("root is not an object, skipping", slog.String("path", root))
		return nil
	}

	c.res.nodes[root] = node

	for _, ref := range node.References() {
		sub, err := c.fetchNode(ctx, ref)
		if err != nil {
			return err
		}

		if sub == nil {
			continue
		}

		c.res.nodes[ref] = sub

		if !sub.IsRefEnum() {
			continue
		}

		for _, leaf := range sub.References() {
			if _, seen := c.res.nodes[leaf]; seen {
				continue
			}

			leafNode, err := c.fetchNode(ctx, leaf)
			if err != nil {
				return err
			}

			if leafNode != nil {
				c.res.nodes[leaf] = leafNode
			}
		}
	}

	return nil
}

// fetchNode fetches a non-root path. Failures and non-object bodies yield
// (nil, nil); only cancellation of the cycle is returned.
func (c *crawler) fetchNode(ctx context.Context, path string) (pointtapi.Node, error) {
	body, err := c.fetcher.Get(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		c.skip(path, err)

		return nil, nil //nolint:nilnil // skipped path
	}

	c.res.fetched++

	node, ok := pointtapi.AsNode(body)
	if !ok {
		return nil, nil //nolint:nilnil // non-object bodies are not stored
	}

	return node, nil
}

func (c *crawler) skip(path string, err error) {
	c.res.skipped++

	if IsAuthFailure(err) {
		c.logger.Debug("authorization refused for optional path, skipping",
			slog.String("path", path),
		)

		return
	}

	c.logger.Debug("optional path unavailable, skipping",
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}
