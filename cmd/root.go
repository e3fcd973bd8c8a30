// Package cmd wires the CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "banxian",
	Short: "黄半仙 - 风水命理对话服务",
	Long: `黄半仙是一个命理咨询对话后端。它将用户的问题交给装配了算命
工具（八字排盘、每日占卜、周公解梦、联网搜索、本地知识库）的语言
模型处理，按用户保存对话历史，并为每条回答异步合成语音。

直接执行 banxian 将启动 HTTP 服务。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
