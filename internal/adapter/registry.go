package adapter

import (
	"fmt"
	"sort"

	"StreakSync/internal/config"
	"StreakSync/internal/interfaces"
	"StreakSync/internal/model"

	"github.com/sirupsen/logrus"
)

// SourceRegistry 按配置实例化的数据源
type SourceRegistry struct {
	logger  *logrus.Logger
	sources map[model.SourceType]interfaces.GameLogSource
}

// NewSourceRegistry 遍历配置中的数据源，从工厂注册表创建实例
func NewSourceRegistry(cfg *config.Config, logger *logrus.Logger) *SourceRegistry {
	r := &SourceRegistry{
		logger:  logger,
		sources: make(map[model.SourceType]interfaces.GameLogSource),
	}
	logger.WithField("factory_sources", ListFactories()).Debug("已注册的数据源工厂")

	for name, sourceCfg := range cfg.Sources {
		sourceType := model.SourceType(name)
		factory, ok := GetFactory(sourceType)
		if !ok {
			logger.WithField("source", name).Error("未找到对应的工厂函数（init未注册？）")
			continue
		}

		sc := sourceCfg
		ins := factory(&sc, logger)
		if ins == nil {
			logger.WithField("source", name).Error("工厂函数返回nil数据源实例")
			continue
		}
		if ins.GetType() != sourceType {
			logger.WithFields(logrus.Fields{
				"config_source":  name,
				"adapter_source": ins.GetType(),
			}).Error("数据源类型与配置不匹配")
			continue
		}
		r.sources[sourceType] = ins
		logger.WithField("source", name).Info("数据源初始化成功")
	}
	return r
}

// Add 直接注册一个实例（测试或自定义数据源）
func (r *SourceRegistry) Add(src interfaces.GameLogSource) {
	r.sources[src.GetType()] = src
}

// Get 获取数据源实例
func (r *SourceRegistry) Get(source model.SourceType) (interfaces.GameLogSource, error) {
	ins, ok := r.sources[source]
	if !ok {
		return nil, fmt.Errorf("数据源%s未初始化（已初始化：%v）", source, r.List())
	}
	return ins, nil
}

// List 已初始化的数据源，按名称排序
func (r *SourceRegistry) List() []string {
	out := make([]string, 0, len(r.sources))
	for s := range r.sources {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}
