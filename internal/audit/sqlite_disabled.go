//go:build !sqlite
// +build !sqlite

package audit

import (
	"errors"

	logx "kernelq/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite audit journal not built: build with -tags sqlite")
}
