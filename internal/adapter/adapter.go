// internal/adapter/adapter.go
package adapter

import (
	"fmt"

	"StreakSync/internal/config"
	"StreakSync/internal/interfaces"
	"StreakSync/internal/model"

	"github.com/sirupsen/logrus"
)

// Factory 数据源工厂函数签名
type Factory func(cfg *config.SourceConfig, logger *logrus.Logger) interfaces.GameLogSource

// ========== 全局工厂函数注册表 ==========
var factoryRegistry = make(map[model.SourceType]Factory)

// Register 供数据源 init 函数调用，注册工厂函数
func Register(source model.SourceType, factory Factory) {
	if factory == nil {
		panic(fmt.Sprintf("数据源%s的工厂函数不能为nil", source))
	}
	if _, exists := factoryRegistry[source]; exists {
		logrus.Warnf("数据源%s已注册，将覆盖原有实现", source)
	}
	factoryRegistry[source] = factory
}

// GetFactory 获取指定数据源的工厂函数
func GetFactory(source model.SourceType) (Factory, bool) {
	factory, ok := factoryRegistry[source]
	return factory, ok
}

// ListFactories 列出所有已注册的数据源
func ListFactories() []model.SourceType {
	var sources []model.SourceType
	for s := range factoryRegistry {
		sources = append(sources, s)
	}
	return sources
}
