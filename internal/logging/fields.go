package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ObjectFields 提供远端地址与缓存键字段，供 cache/fetch/publish 日志复用。
func ObjectFields(action, location, key string) logrus.Fields {
	fields := logrus.Fields{
		"action":   action,
		"location": location,
	}
	if key != "" {
		fields["cache_key"] = key
	}
	return fields
}

// RequestFields 描述 sidecar 的单次请求。
func RequestFields(method, location, requestID string, status int) logrus.Fields {
	fields := logrus.Fields{
		"action":   "objects",
		"method":   method,
		"location": location,
		"status":   status,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
