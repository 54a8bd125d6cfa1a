package fetch

import (
	"github.com/sirupsen/logrus"
)

// unknownSizeStep 总长度未知时每传输这么多字节输出一次进度。
const unknownSizeStep = 16 << 20

// LogProgress 返回以 debug 日志报告进度的 ProgressFunc：
// 已知总长度时每跨过 10% 输出一次，否则每 16 MiB 输出一次。
func LogProgress(logger *logrus.Logger, location string) ProgressFunc {
	var last int64
	return func(transferred, total int64) {
		if logger == nil || !logger.IsLevelEnabled(logrus.DebugLevel) {
			return
		}
		if total > 0 {
			step := total / 10
			if step == 0 || transferred-last >= step || transferred == total {
				last = transferred
				logger.WithFields(logrus.Fields{
					"action":   "fetch_progress",
					"location": location,
					"bytes":    transferred,
					"total":    total,
					"percent":  transferred * 100 / total,
				}).Debug("fetch_progress")
			}
			return
		}
		if transferred-last >= unknownSizeStep {
			last = transferred
			logger.WithFields(logrus.Fields{
				"action":   "fetch_progress",
				"location": location,
				"bytes":    transferred,
			}).Debug("fetch_progress")
		}
	}
}
