package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action 基础字段，便于不同入口复用。
func BaseFields(action string) logrus.Fields {
	return logrus.Fields{
		"action": action,
	}
}

// RequestFields 提供请求日志的公共字段，供 HTTP 层复用。
func RequestFields(action, key, state string, status int) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"key":    key,
		"state":  state,
		"status": status,
	}
}
