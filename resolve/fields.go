// ABOUTME: Mapping tables for companies, processes and deliveries
// ABOUTME: Lists every upstream key observed for each canonical field, highest priority first
package resolve

// Canonical field names shared by the mapping tables.
const (
	FieldExternalID  = "external_id"
	FieldName        = "name"
	FieldDocument    = "document"
	FieldEmail       = "email"
	FieldCompany     = "company"
	FieldCompanyID   = "company_id"
	FieldCompanyDoc  = "company_document"
	FieldTitle       = "title"
	FieldDepartment  = "department"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldProgress    = "progress"
	FieldStartedAt   = "started_at"
	FieldFinishedAt  = "finished_at"
	FieldChangedAt   = "changed_at"
	FieldResponsible = "responsible"
	FieldSteps       = "steps"
	FieldHistory     = "history"
	FieldAttachments = "attachments"
	FieldProcessID   = "process_id"
	FieldType        = "type"
	FieldOccurredAt  = "occurred_at"
	FieldDueAt       = "due_at"
)

// CompanySchema describes company listings and company sub-payloads nested
// inside processes and deliveries.
var CompanySchema = NewSchema("company").
	Field(FieldExternalID, "EmpID", "EmpresaID", "ID", "Id", "id", "id_acessorias").
	Field(FieldName, "EmpNome", "Razao", "RazaoSocial", "Nome", "nome", "empresa", "NomeFantasia").
	Field(FieldDocument, "CNPJ", "EmpCNPJ", "cnpj", "CNPJCPF", "cnpj_cpf", "Documento", "documento").
	Field(FieldEmail, "Email", "EmpEmail", "email", "E-mail")

// ProcessSchema describes process listings.
var ProcessSchema = NewSchema("process").
	Field(FieldExternalID, "ProcID", "proc_id", "ProcessoID", "ID", "Id", "id").
	Field(FieldCompany, "Empresa", "empresa", "Company", "company").
	Field(FieldCompanyID, "EmpID", "EmpresaID", "empresa_id", "company_id").
	Field(FieldCompanyDoc, "EmpCNPJ", "CNPJ", "cnpj", "Documento").
	Field(FieldTitle, "ProcNome", "ProcTitulo", "titulo", "Nome", "nome").
	Field(FieldDepartment, "ProcDepartamento", "Departamento", "departamento").
	Field(FieldDescription, "ProcDescricao", "Descricao", "descricao", "ProcObs").
	Field(FieldStatus, "ProcStatus", "Status", "status", "Situacao").
	Field(FieldProgress, "ProcProgresso", "ProcPorcentagem", "Progresso", "progresso").
	Field(FieldStartedAt, "ProcInicio", "DtInicio", "inicio", "dt_inicio").
	Field(FieldFinishedAt, "ProcConclusao", "DtConclusao", "conclusao", "dt_conclusao").
	Field(FieldChangedAt, "DtLastDH", "ProcDtLastDH", "ultimo_evento", "UltimaAlteracao").
	Field(FieldResponsible, "ProcGestor", "GestorNome", "Responsaveis", "gestor").
	Field(FieldSteps, "ProcPassos", "Passos", "passos", "Steps").
	Field(FieldHistory, "ProcHistorico", "Historico", "historico").
	Field(FieldAttachments, "ProcAnexos", "Anexos", "anexos")

// DeliverySchema describes delivery (obligation) listings.
var DeliverySchema = NewSchema("delivery").
	Field(FieldExternalID, "DeliveryID", "EntID", "EntregaID", "ID", "Id", "id", "id_acessorias").
	Field(FieldProcessID, "ProcID", "proc_id", "ProcessoID").
	Field(FieldCompany, "Empresa", "empresa", "Company").
	Field(FieldCompanyID, "EmpID", "EmpresaID", "empresa_id").
	Field(FieldCompanyDoc, "CNPJ", "EmpCNPJ", "cnpj", "Documento").
	Field(FieldType, "Obrigacao", "EntNome", "Nome", "tipo", "Tipo").
	Field(FieldStatus, "EntStatus", "Status", "situacao", "Situacao").
	Field(FieldOccurredAt, "EntDtEvento", "EntDtEntrega", "dt_evento", "entrega").
	Field(FieldDueAt, "EntDtPrazo", "DtPrazo", "prazo").
	Field(FieldChangedAt, "DtLastDH", "EntDtLastDH")
