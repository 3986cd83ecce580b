package identity

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-trustlink/config"
	"github.com/dep2p/go-trustlink/pkg/interfaces"
	"github.com/dep2p/go-trustlink/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config

	// Preset 直接注入的身份（WithIdentity 场景），优先于密钥文件
	Preset interfaces.LocalIdentity `name:"preset_identity" optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	LocalIdentity interfaces.LocalIdentity
}

// ProvideIdentity 提供本地身份
//
// 优先级：注入身份 > 密钥文件 > 临时身份
func ProvideIdentity(input ModuleInput) (ModuleOutput, error) {
	cfg := input.Config.Identity

	if input.Preset != nil {
		return ModuleOutput{LocalIdentity: input.Preset}, nil
	}

	var (
		id  *Identity
		err error
	)
	switch {
	case cfg.KeyFile != "":
		var created bool
		id, created, err = LoadOrCreate(cfg.KeyFile, cfg.Nickname)
		if err != nil {
			return ModuleOutput{}, err
		}
		if created {
			logger.Info("已生成新身份", "id", log.TruncateID(id.ID(), 8), "path", cfg.KeyFile)
		}
	default:
		id, err = Generate(cfg.Nickname)
		if err != nil {
			return ModuleOutput{}, err
		}
		logger.Debug("使用临时身份", "id", log.TruncateID(id.ID(), 8))
	}

	return ModuleOutput{LocalIdentity: id}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideIdentity),
	)
}
