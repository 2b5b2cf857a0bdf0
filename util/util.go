package util

import (
	"github.com/google/uuid"

	"github.com/lybxkl/gmqttd/common/constant"
)

// Generate 生成唯一id，用于自动分配的客户端id等
func Generate() string {
	return uuid.NewString()
}

func MustPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// Qos 计算服务支持最大qos
func Qos(qos byte) byte {
	if qos > constant.MaxQosAllowed {
		qos = constant.MaxQosAllowed
	}
	return qos
}
