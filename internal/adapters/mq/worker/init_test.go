package worker

import "github.com/okian/ember/pkg/logger"

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}
