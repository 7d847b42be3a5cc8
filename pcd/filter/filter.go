package filter

import (
	"github.com/seqsense/pcdmls/pcd"
)

type Filter interface {
	Filter(*pcd.Cloud) (*pcd.Cloud, error)
}

// Apply runs the filters in order.
func Apply(c *pcd.Cloud, filters ...Filter) (*pcd.Cloud, error) {
	for _, f := range filters {
		var err error
		if c, err = f.Filter(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}
