// Package approach はチャット応答を生成するアプローチを定義する。
//
// ゲートウェイはApproach.Runだけを通してアプローチを呼び出す。
// 戻り値のResultはSingle（JSON1件）かStream（イベントの遅延シーケンス）のどちらか。
//
// 組み込みの実装は2つある。
//   - RemoteApproach: 別サービスとして動くRAGアプローチをHTTPで呼び出す。
//   - OpenAIApproach: Azure OpenAIまたはOpenAIのチャット補完を直接呼び出す。
package approach
